// Package dashboard embeds the PulseProxy web UI.
//
// The page is a single HTML file with inline CSS and JavaScript. It opens a
// WebSocket to /ws, renders the health and stats frames it receives and
// reconnects every three seconds after the connection drops. The server
// substitutes {{.Title}} before serving it at "/".
package dashboard

import "embed"

// Assets holds assets/index.html.
//
//go:embed assets/*
var Assets embed.FS
