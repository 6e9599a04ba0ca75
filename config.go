package tablechat

import "time"

// Config holds session tunables. Zero values fall back to defaults,
// so callers only set what they need.
type Config struct {
	// DialTimeout bounds a single dial attempt.
	DialTimeout time.Duration

	// ReconnectInitialDelay is the backoff before the first retry.
	ReconnectInitialDelay time.Duration
	// ReconnectMaxDelay caps the exponential backoff.
	ReconnectMaxDelay time.Duration
	// ReconnectAttempts bounds dial attempts per outage.
	ReconnectAttempts int

	// HistoryTimeout bounds the wait for a room's history snapshot.
	HistoryTimeout time.Duration
	// TypingIdle is how long after the last input a typing=false is sent.
	TypingIdle time.Duration
	// TypingExpiry auto-clears incoming typing indicators.
	TypingExpiry time.Duration

	// EventBuffer sizes the event stream delivered to the rendering surface.
	EventBuffer int
	// OutboxBuffer sizes the outgoing frame queue.
	OutboxBuffer int
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		DialTimeout:           10 * time.Second,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     5 * time.Second,
		ReconnectAttempts:     5,
		HistoryTimeout:        8 * time.Second,
		TypingIdle:            2 * time.Second,
		TypingExpiry:          3 * time.Second,
		EventBuffer:           256,
		OutboxBuffer:          64,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = def.ReconnectInitialDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = def.ReconnectAttempts
	}
	if c.HistoryTimeout <= 0 {
		c.HistoryTimeout = def.HistoryTimeout
	}
	if c.TypingIdle <= 0 {
		c.TypingIdle = def.TypingIdle
	}
	if c.TypingExpiry <= 0 {
		c.TypingExpiry = def.TypingExpiry
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.OutboxBuffer <= 0 {
		c.OutboxBuffer = def.OutboxBuffer
	}
}
