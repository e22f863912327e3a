//go:build noui

package frontend

import (
	"embed"
)

// Stub for testing/CI without the chat UI.
// Build with `noui` tag to skip embedding.
var embeddedFiles embed.FS
