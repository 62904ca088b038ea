package domain

import "time"

// Config holds the runtime settings the usecases need, decoupled from the yaml layout.
type Config struct {
	FQDN            string
	FreshnessWindow time.Duration
	DecisionTimeout time.Duration
	MaxNameLength   int
	RateLimit       float64
	RateBurst       int
}
