// Package config loads the daemon's peer configuration from YAML,
// grounded on the gopkg.in/yaml.v3 + go-playground/validator/v10
// combination declared in nishisan-dev-n-netman's go.mod.
package config

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/coredge-io/bgpd/internal/bgp"
)

// PeerSpec is the YAML-facing shape of one neighbor entry; numeric
// zero values mean "use the documented default" and are filled in by
// ToPeerConfig via bgp.DefaultPeerConfig.
type PeerSpec struct {
	LocalAS  uint32 `yaml:"local_as" validate:"required"`
	RemoteAS uint32 `yaml:"remote_as" validate:"required"`
	Remote   string `yaml:"remote" validate:"required,ip"`

	Interface string `yaml:"interface"`
	Source    string `yaml:"source" validate:"omitempty,ip"`

	HoldTime         uint16 `yaml:"hold_time"`
	StartupHoldTime  uint16 `yaml:"startup_hold_time"`
	ConnectRetryTime uint16 `yaml:"connect_retry_time"`
	KeepaliveTime    uint16 `yaml:"keepalive_time"`

	MultihopTTL uint8  `yaml:"multihop"`
	MultihopVia string `yaml:"multihop_via" validate:"omitempty,ip"`

	Passive          bool   `yaml:"passive"`
	Capabilities     *bool  `yaml:"capabilities"`
	EnableAS4        *bool  `yaml:"enable_as4"`
	EnableRefresh    *bool  `yaml:"enable_route_refresh"`
	RRClient         bool   `yaml:"rr_client"`
	RSClient         bool   `yaml:"rs_client"`
	RRClusterID      uint32 `yaml:"rr_cluster_id"`
	Password         string `yaml:"password"`
	RouteLimit       uint64 `yaml:"route_limit"`
	NextHopSelf      bool   `yaml:"next_hop_self"`
	PreferOlder      bool   `yaml:"prefer_older"`
	DefaultMED       uint32 `yaml:"default_med"`
	DefaultLocalPref uint32 `yaml:"default_local_pref"`

	StartDelayTime    uint16 `yaml:"start_delay_time"`
	ErrorAmnesiaTime  uint16 `yaml:"error_forget_time"`
	ErrorDelayMin     uint16 `yaml:"error_wait_time_min"`
	ErrorDelayMax     uint16 `yaml:"error_wait_time_max"`
	DisableAfterError bool   `yaml:"disable_after_error"`

	MissingLLAddr string `yaml:"missing_lladdr" validate:"omitempty,oneof=self drop ignore"`
}

// File is the top-level document shape: a list of neighbors.
type File struct {
	Peers []PeerSpec `yaml:"peers" validate:"dive"`
}

// Load reads and validates a YAML peer configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &f, nil
}

func boolDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// ToPeerConfig overlays a PeerSpec on bgp.DefaultPeerConfig, filling in
// every field the YAML document specified.
func (s PeerSpec) ToPeerConfig() (bgp.PeerConfig, error) {
	cfg := bgp.DefaultPeerConfig()

	remote, err := netip.ParseAddr(s.Remote)
	if err != nil {
		return cfg, fmt.Errorf("remote: %w", err)
	}
	cfg.RemoteIP = remote
	cfg.LocalAS = s.LocalAS
	cfg.RemoteAS = s.RemoteAS
	cfg.Interface = s.Interface

	if s.Source != "" {
		src, err := netip.ParseAddr(s.Source)
		if err != nil {
			return cfg, fmt.Errorf("source: %w", err)
		}
		cfg.SourceIP = src
	}

	if s.HoldTime != 0 {
		cfg.HoldTime = s.HoldTime
	}
	if s.StartupHoldTime != 0 {
		cfg.InitialHoldTime = s.StartupHoldTime
	}
	if s.ConnectRetryTime != 0 {
		cfg.ConnectRetryTime = s.ConnectRetryTime
	}
	cfg.KeepaliveTime = s.KeepaliveTime

	cfg.MultihopTTL = s.MultihopTTL
	if s.MultihopVia != "" {
		via, err := netip.ParseAddr(s.MultihopVia)
		if err != nil {
			return cfg, fmt.Errorf("multihop_via: %w", err)
		}
		cfg.MultihopVia = via
	}

	cfg.Passive = s.Passive
	cfg.Capabilities = boolDefault(s.Capabilities, cfg.Capabilities)
	cfg.EnableAS4 = boolDefault(s.EnableAS4, cfg.EnableAS4)
	cfg.EnableRefresh = boolDefault(s.EnableRefresh, cfg.EnableRefresh)
	cfg.RouteRefresh = cfg.EnableRefresh
	cfg.RRClient = s.RRClient
	cfg.RSClient = s.RSClient
	cfg.RRClusterID = s.RRClusterID
	cfg.Password = s.Password
	cfg.RouteLimit = s.RouteLimit
	cfg.NextHopSelf = s.NextHopSelf
	cfg.PreferOlder = s.PreferOlder
	cfg.DefaultMED = s.DefaultMED
	if s.DefaultLocalPref != 0 {
		cfg.DefaultLocalPref = s.DefaultLocalPref
	}

	if s.StartDelayTime != 0 {
		cfg.StartDelayTime = s.StartDelayTime
	}
	if s.ErrorAmnesiaTime != 0 {
		cfg.ErrorAmnesiaTime = s.ErrorAmnesiaTime
	}
	if s.ErrorDelayMin != 0 {
		cfg.ErrorDelayMin = s.ErrorDelayMin
	}
	if s.ErrorDelayMax != 0 {
		cfg.ErrorDelayMax = s.ErrorDelayMax
	}
	cfg.DisableAfterError = s.DisableAfterError

	switch s.MissingLLAddr {
	case "drop":
		cfg.MissingLLAddr = bgp.MissingLLAddrDrop
	case "ignore":
		cfg.MissingLLAddr = bgp.MissingLLAddrIgnore
	default:
		cfg.MissingLLAddr = bgp.MissingLLAddrSelf
	}

	return cfg, nil
}

// PeerConfigs converts every PeerSpec in the file, keyed by remote
// address text for use with bgp.Manager.Configure.
func (f *File) PeerConfigs() (map[string]bgp.PeerConfig, error) {
	out := make(map[string]bgp.PeerConfig, len(f.Peers))
	for _, spec := range f.Peers {
		cfg, err := spec.ToPeerConfig()
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", spec.Remote, err)
		}
		out[bgp.Key(cfg.RemoteIP)] = cfg
	}
	return out, nil
}
