// Package main is the entry point for the CHRE runtime daemon.
//
// chred wires together the event loop, timer pool, host communications
// adapter, and the supplemental admin surface, then runs until it
// receives SIGINT or SIGTERM.
//
// Architecture:
//
//	Host daemon (socket) <-> chred (event loop, timers, nanoapps) <-> operators (admin HTTP/WS)
//
// Configuration:
//   - Environment variables (12-factor), see internal/infrastructure/config
//   - -manifest flag: optional YAML manifest of built-in nanoapps to load
//   - -dev flag: console-encoded debug logging instead of JSON/info
//
// Signals:
//   - SIGINT, SIGTERM: orderly shutdown (drain loop, disconnect host, stop admin server)
package main
