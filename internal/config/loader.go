// loader.go implements the configuration loading lifecycle:
//
//  1. Load a .env file via godotenv (non-fatal if absent; never overrides
//     already-set environment variables).
//  2. Process envconfig struct tags to populate the Config struct.
//  3. Validate with go-playground/validator, failing fast on any miss.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load loads and validates the castline configuration from the process
// environment. Any missing required value or invalid format returns an
// error; callers are expected to treat that as fatal at startup.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}
