package billingrun

import "time"

const (
	defaultBatchSize = 200
	defaultTimeout   = 5 * time.Minute
)

// Config bounds a single billing run.
type Config struct {
	// BatchSize caps how many due agreements one run picks up.
	BatchSize int
	// Timeout bounds the whole run; in-flight transactions still resolve
	// fully when it fires.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}
