// Package configs embeds the configuration templates written by
// 'clipbridge config init'.
//
// Precedence (see internal/config Load):
//  1. Built-in defaults
//  2. User config (~/.config/clipbridge/config.yaml)
//  3. Project config (.clipbridge.yaml)
//  4. CLIPBRIDGE_* environment variables
package configs

import _ "embed"

// UserConfigTemplate is written to the user config path. It holds settings
// that apply to every folder on this machine: where clip_tool is installed,
// the data directory and logging.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written to .clipbridge.yaml with --project. It
// holds per-folder search tuning.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
