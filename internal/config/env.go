package config

import "os"

// envOverrides maps environment variables to config field setters.
var envOverrides = []struct {
	envVar string
	apply  func(*Config, string)
}{
	{
		envVar: "DOCKERSLAVES_RUNTIME",
		apply: func(c *Config, v string) {
			c.Runtime = v
		},
	},
	{
		envVar: "DOCKERSLAVES_LOG_LEVEL",
		apply: func(c *Config, v string) {
			c.LogLevel = v
		},
	},
	{
		envVar: "DOCKERSLAVES_STATE_DB",
		apply: func(c *Config, v string) {
			c.StateDB = v
		},
	},
	{
		envVar: "DOCKERSLAVES_REMOTING_IMAGE",
		apply: func(c *Config, v string) {
			c.Remoting.Image = v
		},
	},
}

// applyEnvOverrides modifies config in place with environment variable values.
func applyEnvOverrides(cfg *Config) {
	for _, override := range envOverrides {
		if val := os.Getenv(override.envVar); val != "" {
			override.apply(cfg, val)
		}
	}
}
