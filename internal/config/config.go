// Package config provides configuration parsing and validation for the bridge.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"udp-topic-bridge/internal/bridge"
	"udp-topic-bridge/internal/core/network"
	"udp-topic-bridge/internal/datagram"
	"udp-topic-bridge/internal/envelope"
	"udp-topic-bridge/internal/logging"
)

// Config represents the complete bridge configuration.
type Config struct {
	Bridge BridgeConfig `yaml:"bridge"`
	Log    LogConfig    `yaml:"log"`
	Bus    BusConfig    `yaml:"bus"`
	Admin  AdminConfig  `yaml:"admin"`
	Routes RoutesConfig `yaml:"routes"`
}

// BridgeConfig contains the UDP endpoint settings.
type BridgeConfig struct {
	IP                  string        `yaml:"ip"`
	Port                int           `yaml:"port"`
	MaxDatagramSize     int           `yaml:"max_datagram_size"`
	SendQueueSize       int           `yaml:"send_queue_size"`
	ReceiveErrorBackoff time.Duration `yaml:"receive_error_backoff"`
	MaxReceiveErrors    int           `yaml:"max_receive_errors"`

	// RateLimit is accepted inbound datagrams per second, 0 for unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BusConfig selects the pub/sub backend.
type BusConfig struct {
	Backend            string       `yaml:"backend"`
	SubscriptionBuffer int          `yaml:"subscription_buffer"`
	Libp2p             Libp2pConfig `yaml:"libp2p"`
}

// Libp2pConfig configures the gossipsub backend.
type Libp2pConfig struct {
	ListenAddrs     []string `yaml:"listen_addrs"`
	Bootstrap       []string `yaml:"bootstrap"`
	Rendezvous      string   `yaml:"rendezvous"`
	EnableMDNS      bool     `yaml:"enable_mdns"`
	IdentityKeyFile string   `yaml:"identity_key_file"`
}

// AdminConfig configures the health and metrics HTTP server.
type AdminConfig struct {
	// Address to listen on, e.g. "127.0.0.1:9091". Empty disables the server.
	Address string `yaml:"address"`
}

// RoutesConfig is the route table as written in YAML.
type RoutesConfig struct {
	Inbound  []RouteConfig `yaml:"inbound"`
	Outbound []RouteConfig `yaml:"outbound"`
}

// RouteConfig is one route entry.
type RouteConfig struct {
	Topic    string `yaml:"topic"`
	Type     string `yaml:"type"`
	BusTopic string `yaml:"bus_topic"`
}

// Default returns a configuration with default values.
func Default() *Config {
	dg := datagram.DefaultConfig()
	return &Config{
		Bridge: BridgeConfig{
			IP:                  "127.0.0.1",
			Port:                9090,
			MaxDatagramSize:     dg.MaxDatagramSize,
			SendQueueSize:       dg.SendQueueSize,
			ReceiveErrorBackoff: dg.ReceiveErrorBackoff,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Bus: BusConfig{
			Backend:            network.BackendMemory,
			SubscriptionBuffer: 64,
			Libp2p: Libp2pConfig{
				ListenAddrs: []string{network.DefaultListenAddr},
				Rendezvous:  "udp-topic-bridge",
			},
		},
		Routes: RoutesConfig{
			Inbound:  []RouteConfig{{Topic: "/chatter", Type: envelope.TypeString, BusTopic: "/chatter"}},
			Outbound: []RouteConfig{{Topic: "/listener", Type: envelope.TypeString, BusTopic: "/listener"}},
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes on top of Default.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default; unknown references are kept as-is.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if _, err := netip.ParseAddr(c.Bridge.IP); err != nil {
		errs = append(errs, fmt.Sprintf("bridge.ip: invalid address %q", c.Bridge.IP))
	}
	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		errs = append(errs, fmt.Sprintf("bridge.port must be between 0 and 65535, got %d", c.Bridge.Port))
	}
	if c.Bridge.MaxDatagramSize < 1 || c.Bridge.MaxDatagramSize > 65535 {
		errs = append(errs, "bridge.max_datagram_size must be between 1 and 65535")
	}
	if c.Bridge.SendQueueSize < 1 {
		errs = append(errs, "bridge.send_queue_size must be positive")
	}
	if c.Bridge.ReceiveErrorBackoff < 0 {
		errs = append(errs, "bridge.receive_error_backoff must not be negative")
	}
	if c.Bridge.MaxReceiveErrors < 0 {
		errs = append(errs, "bridge.max_receive_errors must not be negative")
	}
	if c.Bridge.RateLimit < 0 || c.Bridge.RateBurst < 0 {
		errs = append(errs, "bridge.rate_limit and bridge.rate_burst must not be negative")
	}

	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	switch c.Bus.Backend {
	case network.BackendMemory:
	case network.BackendLibp2p:
		if _, err := network.ParseMultiaddrs(c.Bus.Libp2p.ListenAddrs); err != nil {
			errs = append(errs, fmt.Sprintf("bus.libp2p.listen_addrs: %v", err))
		}
		if _, err := network.ParseMultiaddrs(c.Bus.Libp2p.Bootstrap); err != nil {
			errs = append(errs, fmt.Sprintf("bus.libp2p.bootstrap: %v", err))
		}
		if c.Bus.Libp2p.EnableMDNS && c.Bus.Libp2p.Rendezvous == "" {
			errs = append(errs, "bus.libp2p.rendezvous is required when mdns is enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid bus.backend: %s (must be memory or libp2p)", c.Bus.Backend))
	}
	if c.Bus.SubscriptionBuffer < 0 {
		errs = append(errs, "bus.subscription_buffer must not be negative")
	}

	if c.Admin.Address != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Address); err != nil {
			errs = append(errs, fmt.Sprintf("admin.address: %v", err))
		}
	}

	if len(c.Routes.Inbound) == 0 && len(c.Routes.Outbound) == 0 {
		errs = append(errs, "routes: at least one inbound or outbound route is required")
	} else if err := c.BridgeRoutes().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the UDP bind address as host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Bridge.IP, strconv.Itoa(c.Bridge.Port))
}

// Datagram returns the transport settings.
func (c *Config) Datagram() datagram.Config {
	return datagram.Config{
		Address:             c.Address(),
		MaxDatagramSize:     c.Bridge.MaxDatagramSize,
		SendQueueSize:       c.Bridge.SendQueueSize,
		ReceiveErrorBackoff: c.Bridge.ReceiveErrorBackoff,
		MaxReceiveErrors:    c.Bridge.MaxReceiveErrors,
	}
}

// BusOptions returns the options for network.New.
func (c *Config) BusOptions() network.Options {
	return network.Options{
		Backend:            c.Bus.Backend,
		SubscriptionBuffer: c.Bus.SubscriptionBuffer,
		Libp2p: network.Libp2pOptions{
			ListenAddrs:     c.Bus.Libp2p.ListenAddrs,
			Bootstrap:       c.Bus.Libp2p.Bootstrap,
			Rendezvous:      c.Bus.Libp2p.Rendezvous,
			EnableMDNS:      c.Bus.Libp2p.EnableMDNS,
			IdentityKeyFile: c.Bus.Libp2p.IdentityKeyFile,
		},
	}
}

// BridgeRoutes converts the YAML route table.
func (c *Config) BridgeRoutes() bridge.Routes {
	conv := func(in []RouteConfig) []bridge.Route {
		out := make([]bridge.Route, 0, len(in))
		for _, r := range in {
			out = append(out, bridge.Route{Topic: r.Topic, Type: r.Type, BusTopic: r.BusTopic})
		}
		return out
	}
	return bridge.Routes{Inbound: conv(c.Routes.Inbound), Outbound: conv(c.Routes.Outbound)}
}

// BridgeOptions returns the bridge options minus logger and metrics.
func (c *Config) BridgeOptions() bridge.Options {
	return bridge.Options{
		Routes:    c.BridgeRoutes(),
		RateLimit: c.Bridge.RateLimit,
		RateBurst: c.Bridge.RateBurst,
	}
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("error marshaling config: %v", err)
	}
	return string(data)
}
