package appfs

import "embed"

// FS holds the SQL migrations and the static assets (email templates, plan catalog).
//
//go:embed migrations assets assets/templates/email/_*
var FS embed.FS
