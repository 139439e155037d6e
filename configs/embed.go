// Package configs provides embedded configuration templates for amanrag.
//
// Templates are embedded at build time using Go's //go:embed directive
// so they ship with every distribution, source builds included.
//
// The templates are used by:
//   - cmd/amanrag/cmd/config.go → `amanrag config init` creates the user
//     config at ~/.config/amanrag/config.yaml
//   - cmd/amanrag/cmd/config.go → `amanrag config init --project` creates
//     .amanrag.yaml in the working directory
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml)
//  4. Environment variables (AMANRAG_*)
package configs

import _ "embed"

// UserConfigTemplate is the template for user/global configuration:
// machine-specific settings like sidecar URLs, the encoder device, and
// the data root.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration:
// per-deployment settings like collections, search tuning, and the
// research provider, version-controlled next to the deployment.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
