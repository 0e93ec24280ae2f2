package polling

import (
	"errors"
	"time"
)

// Config holds long-polling transport settings.
type Config struct {
	// PollTimeout is how long a GET waits for outbound messages before
	// returning an empty batch. Default: 25 seconds.
	PollTimeout time.Duration

	// IdleTimeout ends the connection when no request arrives for this long.
	// Default: 60 seconds.
	IdleTimeout time.Duration

	// MaxBuffered is the outbound buffer bound. Send returns
	// transport.ErrBufferFull once it is reached. Default: 1024.
	MaxBuffered int

	// MaxBodySize limits POST bodies. Default: 1MB.
	MaxBodySize int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollTimeout: 25 * time.Second,
		IdleTimeout: 60 * time.Second,
		MaxBuffered: 1024,
		MaxBodySize: 1 << 20,
	}
}

// Validate checks the settings after defaults are applied. A poll must end
// before the idle timer can expire a client that is waiting in it.
func (c *Config) Validate() error {
	r := c.withDefaults()
	if r.PollTimeout < 0 || r.IdleTimeout < 0 {
		return errors.New("polling: timeouts must not be negative")
	}
	if r.PollTimeout >= r.IdleTimeout {
		return errors.New("polling: poll timeout must be shorter than idle timeout")
	}
	if r.MaxBuffered < 0 || r.MaxBodySize < 0 {
		return errors.New("polling: limits must not be negative")
	}
	return nil
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.PollTimeout == 0 {
		out.PollTimeout = d.PollTimeout
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = d.IdleTimeout
	}
	if out.MaxBuffered == 0 {
		out.MaxBuffered = d.MaxBuffered
	}
	if out.MaxBodySize == 0 {
		out.MaxBodySize = d.MaxBodySize
	}
	return &out
}
