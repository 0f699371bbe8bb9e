// Package dictionaries embeds the default keyword dictionary used when no
// dictionary file is configured. The listing covers the most traded crypto
// assets by name and ticker.
//
// Usage:
//
//	dictionary.LoadFS(dictionaries.FS, "v1")
package dictionaries

import "embed"

//go:embed v1/*.json
var FS embed.FS
