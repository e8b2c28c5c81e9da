// Package configs embeds the configuration templates written by
// `searchview config init`.
//
// Templates are embedded at build time, so every distribution carries them.
// Edit the .yaml files in this directory and rebuild to change them.
package configs

import _ "embed"

// UserConfigTemplate is written to ~/.config/searchview/config.yaml.
// Every setting is commented out so the defaults in internal/config apply
// until the user opts in.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ViewConfigTemplate documents the view.yaml kept in each view directory.
// It is printed by `searchview config view`; views write their own file
// on first open.
//
//go:embed view-config.example.yaml
var ViewConfigTemplate string
