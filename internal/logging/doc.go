// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package logging provides centralized zerolog-based logging for Collabd.
//
// All packages log through the global logger configured here. Output is JSON
// by default (console format is available for development), and the level,
// format, and caller reporting are set once at startup from configuration.
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("room", name).Msg("room created")
//
// Always terminate log chains with .Msg() or .Send(); an unterminated chain
// emits nothing. Prefer structured fields over formatted messages:
//
//	logging.Info().Str("client", id).Int("queued", n).Msg("frame relayed")
package logging
