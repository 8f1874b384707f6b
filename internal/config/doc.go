// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for aeris.
//
// Configuration is TOML at ~/.aeris/config.toml with built-in defaults and
// AERIS_* environment variable overrides applied last. A file watcher is
// available for hot reload of a running client.
package config
