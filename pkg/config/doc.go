// Package config loads typed configuration from the environment.
//
// Component configs declare their variables with caarlos0/env tags; Load
// parses each struct type once and serves copies afterwards. .env files are
// read with godotenv and never override variables already set.
//
//	var cfg lifecycle.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Tests that change the environment between loads call ResetCache or use
// Parse, which bypasses the cache.
package config
