package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"udp-topic-bridge/internal/envelope"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Bridge.IP != "127.0.0.1" {
		t.Errorf("Bridge.IP = %s, want 127.0.0.1", cfg.Bridge.IP)
	}
	if cfg.Bridge.Port != 9090 {
		t.Errorf("Bridge.Port = %d, want 9090", cfg.Bridge.Port)
	}
	if cfg.Address() != "127.0.0.1:9090" {
		t.Errorf("Address() = %s, want 127.0.0.1:9090", cfg.Address())
	}
	if cfg.Bus.Backend != "memory" {
		t.Errorf("Bus.Backend = %s, want memory", cfg.Bus.Backend)
	}
	if cfg.Admin.Address != "" {
		t.Errorf("Admin.Address = %s, want empty", cfg.Admin.Address)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestDefault_Routes(t *testing.T) {
	routes := Default().BridgeRoutes()

	if len(routes.Inbound) != 1 || len(routes.Outbound) != 1 {
		t.Fatalf("routes = %+v, want one inbound and one outbound", routes)
	}
	in := routes.Inbound[0]
	if in.Topic != "/chatter" || in.Type != envelope.TypeString || in.BusTopic != "/chatter" {
		t.Errorf("inbound route = %+v", in)
	}
	out := routes.Outbound[0]
	if out.Topic != "/listener" || out.Type != envelope.TypeString || out.BusTopic != "/listener" {
		t.Errorf("outbound route = %+v", out)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
bridge:
  ip: 0.0.0.0
  port: 7000
  send_queue_size: 8
  receive_error_backoff: 200ms
  max_receive_errors: 10
  rate_limit: 100
  rate_burst: 20
log:
  level: debug
  format: json
bus:
  backend: libp2p
  libp2p:
    listen_addrs: ["/ip4/127.0.0.1/tcp/4001"]
    enable_mdns: true
admin:
  address: 127.0.0.1:9091
routes:
  inbound:
    - {topic: /cmd, type: std_msgs/String, bus_topic: robot.cmd}
  outbound:
    - {bus_topic: robot.status, topic: /status, type: std_msgs/String}
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Address() != "0.0.0.0:7000" {
		t.Errorf("Address() = %s, want 0.0.0.0:7000", cfg.Address())
	}
	if cfg.Bridge.ReceiveErrorBackoff != 200*time.Millisecond {
		t.Errorf("ReceiveErrorBackoff = %v, want 200ms", cfg.Bridge.ReceiveErrorBackoff)
	}
	if cfg.Bridge.MaxDatagramSize != 65535 {
		t.Errorf("MaxDatagramSize = %d, want default 65535", cfg.Bridge.MaxDatagramSize)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Bus.Libp2p.Rendezvous != "udp-topic-bridge" {
		t.Errorf("Rendezvous = %s, want default", cfg.Bus.Libp2p.Rendezvous)
	}

	dg := cfg.Datagram()
	if dg.Address != "0.0.0.0:7000" || dg.SendQueueSize != 8 || dg.MaxReceiveErrors != 10 {
		t.Errorf("Datagram() = %+v", dg)
	}

	opts := cfg.BusOptions()
	if opts.Backend != "libp2p" || !opts.Libp2p.EnableMDNS || len(opts.Libp2p.ListenAddrs) != 1 {
		t.Errorf("BusOptions() = %+v", opts)
	}

	bo := cfg.BridgeOptions()
	if bo.RateLimit != 100 || bo.RateBurst != 20 {
		t.Errorf("BridgeOptions() rate = %v/%d", bo.RateLimit, bo.RateBurst)
	}
	if len(bo.Routes.Inbound) != 1 || bo.Routes.Inbound[0].BusTopic != "robot.cmd" {
		t.Errorf("inbound routes = %+v", bo.Routes.Inbound)
	}
	if len(bo.Routes.Outbound) != 1 || bo.Routes.Outbound[0].Topic != "/status" {
		t.Errorf("outbound routes = %+v", bo.Routes.Outbound)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("bridge: [unclosed"))
	if err == nil {
		t.Fatal("Parse() should fail on invalid YAML")
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("BRIDGE_TEST_PORT", "9500")
	os.Unsetenv("BRIDGE_TEST_UNSET")

	cfg, err := Parse([]byte(`
bridge:
  port: ${BRIDGE_TEST_PORT}
log:
  level: ${BRIDGE_TEST_UNSET:-warn}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Bridge.Port != 9500 {
		t.Errorf("Bridge.Port = %d, want 9500", cfg.Bridge.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %s, want warn", cfg.Log.Level)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("BRIDGE_TEST_HOST", "10.0.0.1")
	os.Unsetenv("BRIDGE_TEST_MISSING")

	tests := []struct {
		in   string
		want string
	}{
		{"${BRIDGE_TEST_HOST}", "10.0.0.1"},
		{"$BRIDGE_TEST_HOST:9", "10.0.0.1:9"},
		{"${BRIDGE_TEST_MISSING:-fallback}", "fallback"},
		{"${BRIDGE_TEST_MISSING}", "${BRIDGE_TEST_MISSING}"},
		{"no vars", "no vars"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"bad ip", func(c *Config) { c.Bridge.IP = "localhost" }, "bridge.ip"},
		{"bad port", func(c *Config) { c.Bridge.Port = 70000 }, "bridge.port"},
		{"bad datagram size", func(c *Config) { c.Bridge.MaxDatagramSize = 0 }, "max_datagram_size"},
		{"bad queue", func(c *Config) { c.Bridge.SendQueueSize = 0 }, "send_queue_size"},
		{"negative rate", func(c *Config) { c.Bridge.RateLimit = -1 }, "rate_limit"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad backend", func(c *Config) { c.Bus.Backend = "kafka" }, "bus.backend"},
		{"bad multiaddr", func(c *Config) {
			c.Bus.Backend = "libp2p"
			c.Bus.Libp2p.ListenAddrs = []string{"not-a-multiaddr"}
		}, "listen_addrs"},
		{"bad admin address", func(c *Config) { c.Admin.Address = "9091" }, "admin.address"},
		{"no routes", func(c *Config) { c.Routes = RoutesConfig{} }, "at least one"},
		{"bad route type", func(c *Config) { c.Routes.Inbound[0].Type = "std_msgs/Int32" }, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Bus.Backend = "kafka"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"log.level", "bus.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %v, missing %q", err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte("bridge:\n  port: 9191\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bridge.Port != 9191 {
		t.Errorf("Bridge.Port = %d, want 9191", cfg.Bridge.Port)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}

func TestString_RoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Bridge.Port = 9999

	parsed, err := Parse([]byte(cfg.String()))
	if err != nil {
		t.Fatalf("Parse(String()) error = %v", err)
	}
	if parsed.Bridge.Port != 9999 {
		t.Errorf("Bridge.Port = %d, want 9999", parsed.Bridge.Port)
	}
	if parsed.Bridge.ReceiveErrorBackoff != cfg.Bridge.ReceiveErrorBackoff {
		t.Errorf("ReceiveErrorBackoff = %v, want %v", parsed.Bridge.ReceiveErrorBackoff, cfg.Bridge.ReceiveErrorBackoff)
	}
}
