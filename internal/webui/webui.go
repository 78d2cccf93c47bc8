// Package webui holds the embedded sweep dashboard page.
package webui

import "embed"

//go:embed static/index.html
var staticFS embed.FS

// Index returns the dashboard page.
func Index() []byte {
	b, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		// This should never happen because we control the embed path
		panic(err)
	}
	return b
}
