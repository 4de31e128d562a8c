// Package config provides 12-factor configuration for the CHRE runtime.
//
// Configuration is loaded from environment variables with sensible
// defaults; CLI flags in cmd/chred override individual fields for
// development convenience.
//
// Example:
//
//	cfg := config.LoadOrDefault()
//	fmt.Println(cfg.Host.SocketPath)
package config
