package bgp

import "log/slog"

// Logger is the structured-logging collaborator a Peer is built with;
// see internal/logging for the process-wide slog+tint construction.
type Logger = *slog.Logger
