// Package config loads application configuration from environment variables
// into typed structs.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11:
//
//   - The default .env file in the working directory is read once, if present.
//   - LoadEnv reads explicit .env files, later files overriding earlier ones.
//   - Load parses the environment into any struct using `env` field tags and
//     caches the result per type, so repeated calls are cheap.
//   - LoadWithPrefix does the same with a variable name prefix and caches per
//     (type, prefix) pair.
//   - Structs implementing Validator are checked before they are cached.
//
// # Usage
//
//	type appConfig struct {
//	    Env      string `env:"APP_ENV" envDefault:"development"`
//	    HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg appConfig
//	config.MustLoad(&cfg)
//
// A failed load is not cached. Reset clears the cache in tests.
package config
