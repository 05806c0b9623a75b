// Package config defines the configuration structures for meshd, extending
// the teacher's Config/Loader pattern (internal/config/config.go,
// loader.go) to the RIB/peer/xDS domain of this control plane.
package config

// Config is the root configuration structure for meshd.
type Config struct {
	Version int        `yaml:"version" validate:"required,eq=1"`
	Node    NodeConfig `yaml:"node" validate:"required"`
	Peers   []PeerSpec `yaml:"peers" validate:"dive"`
	RIB     RIBConfig  `yaml:"rib"`
	XDS     XDSConfig  `yaml:"xds"`
	Control ControlAPI `yaml:"control_api"`
	Obs     ObsConfig  `yaml:"observability"`
}

// NodeConfig defines the identity of this host.
type NodeConfig struct {
	ID      string   `yaml:"id" validate:"required"`
	Domains []string `yaml:"domains"`
}

// PeerSpec defines a configured iBGP-style peer.
type PeerSpec struct {
	Name      string   `yaml:"name" validate:"required"`
	Address   string   `yaml:"address" validate:"required"`
	Domains   []string `yaml:"domains"`
	PeerToken string   `yaml:"peer_token"`
}

// RIBConfig defines RIB-level timers and port allocation.
type RIBConfig struct {
	// HoldTimeSec is validated structurally as >= 0 only (min=3 is a
	// semantic rule, not a structural one: 0 is the explicit "disabled"
	// sentinel and must be allowed through, so the 0-or-[3,∞) contract is
	// enforced in Loader.validateSemantics instead of a bare struct tag).
	HoldTimeSec     int64        `yaml:"hold_time_seconds" validate:"min=0"`
	KeepaliveTickMs int64        `yaml:"keepalive_tick_ms" validate:"omitempty,min=1"`
	PortRange       []PortRange  `yaml:"port_range" validate:"required,dive"`
	ProxyBindAddr   string       `yaml:"proxy_bind_address"`
	PeerListen      ListenConfig `yaml:"peer_listen"`
}

// PortRange is one [start,end] inclusive port range available for
// allocation to routes.
type PortRange struct {
	Start uint32 `yaml:"start" validate:"required,min=1,max=65535"`
	End   uint32 `yaml:"end" validate:"required,min=1,max=65535"`
}

// XDSConfig defines the ADS gRPC server settings.
type XDSConfig struct {
	Listen ListenConfig `yaml:"listen"`
	NodeID string       `yaml:"node_id"`
}

// ControlAPI defines the local HTTP control API settings.
type ControlAPI struct {
	Listen ListenConfig `yaml:"listen"`
}

// ListenConfig defines listen address and port.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// ObsConfig defines observability settings.
type ObsConfig struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Healthcheck HealthcheckConfig `yaml:"healthcheck"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// MetricsConfig defines Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool         `yaml:"enabled"`
	Listen  ListenConfig `yaml:"listen"`
}

// HealthcheckConfig defines healthcheck endpoint settings.
type HealthcheckConfig struct {
	Enabled bool         `yaml:"enabled"`
	Listen  ListenConfig `yaml:"listen"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Version: 1,
		RIB: RIBConfig{
			HoldTimeSec:     180,
			KeepaliveTickMs: 1000,
			ProxyBindAddr:   "0.0.0.0",
			PeerListen: ListenConfig{
				Address: "0.0.0.0",
				Port:    9999,
			},
			PortRange: []PortRange{
				{Start: 20000, End: 20999},
			},
		},
		XDS: XDSConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    18000,
			},
		},
		Control: ControlAPI{
			Listen: ListenConfig{
				Address: "127.0.0.1",
				Port:    8080,
			},
		},
		Obs: ObsConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Listen: ListenConfig{
					Address: "127.0.0.1",
					Port:    9109,
				},
			},
			Healthcheck: HealthcheckConfig{
				Enabled: true,
				Listen: ListenConfig{
					Address: "127.0.0.1",
					Port:    9110,
				},
			},
		},
	}
}
