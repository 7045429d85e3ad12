package queue

import "time"

// Config holds the configuration for the task queue
type Config struct {
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"500ms"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`
	MaxAttempts        int8          `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay  time.Duration `env:"QUEUE_RETRY_INITIAL_DELAY" envDefault:"1s"`
	RetryMaxDelay      time.Duration `env:"QUEUE_RETRY_MAX_DELAY" envDefault:"1m"`
	CompletedRetention time.Duration `env:"QUEUE_COMPLETED_RETENTION" envDefault:"24h"`
	PurgeInterval      time.Duration `env:"QUEUE_PURGE_INTERVAL" envDefault:"10m"`
}

// RetryPolicy builds the worker retry policy described by the config.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: c.RetryInitialDelay,
		Multiplier:   2,
		MaxDelay:     c.RetryMaxDelay,
	}
}
