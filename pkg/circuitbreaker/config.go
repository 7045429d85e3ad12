package circuitbreaker

import "time"

// Config holds the tunables of a breaker. Embed it with an envPrefix to
// configure one breaker per dependency, e.g. `envPrefix:"GATEWAY_"`.
type Config struct {
	FailureThreshold int           `env:"CB_FAILURE_THRESHOLD" envDefault:"5"`
	ResetTimeout     time.Duration `env:"CB_RESET_TIMEOUT" envDefault:"60s"`
}

// Options converts the config to breaker options.
func (c Config) Options() []Option {
	return []Option{
		WithFailureThreshold(c.FailureThreshold),
		WithResetTimeout(c.ResetTimeout),
	}
}
