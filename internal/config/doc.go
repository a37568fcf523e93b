// Package config provides the configuration system for negstation.
//
// Configuration is resolved in layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  4. Command Line Flags      │  ← Highest priority
//	├─────────────────────────────┤
//	│  3. Environment Variables   │  ← NEGSTATION_*
//	├─────────────────────────────┤
//	│  2. Config File             │  ← negstation.toml / .yaml / .json
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Flags are applied by the command layer; this package owns the rest.
//
// # Basic Usage
//
//	cfg, err := config.Load("negstation.toml")
//	if err != nil {
//	    return err
//	}
//	config.ApplyEnv(cfg, config.EnvPrefix)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
// # Live Reload
//
// A Reloader watches the config file and hands every successfully loaded
// and validated configuration to a callback. The application uses it to
// push new converter settings into the shared settings store, so queued
// conversions pick them up.
package config
