package datagram

import "time"

// Config holds settings for the UDP transport.
type Config struct {
	// Address is the ip:port to bind, e.g. "127.0.0.1:9090".
	Address string

	// MaxDatagramSize is the receive buffer size. Longer datagrams are
	// truncated by the kernel and will fail to decode.
	MaxDatagramSize int

	// SendQueueSize bounds outbound datagrams awaiting the socket.
	SendQueueSize int

	// ReceiveErrorBackoff is the pause before re-arming a read after a
	// non-fatal receive error.
	ReceiveErrorBackoff time.Duration

	// MaxReceiveErrors stops the receive loop after this many consecutive
	// failures. 0 means never.
	MaxReceiveErrors int
}

// DefaultConfig returns a Config bound to 127.0.0.1:9090.
func DefaultConfig() Config {
	return Config{
		Address:             "127.0.0.1:9090",
		MaxDatagramSize:     65535,
		SendQueueSize:       64,
		ReceiveErrorBackoff: 50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.MaxDatagramSize <= 0 {
		c.MaxDatagramSize = def.MaxDatagramSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.ReceiveErrorBackoff <= 0 {
		c.ReceiveErrorBackoff = def.ReceiveErrorBackoff
	}
	return c
}
