package web

import (
	"embed"
)

// staticFiles holds the scouting UI (index.html, app.js, style.css),
// served at / and /static/.
//
//go:embed static/*
var staticFiles embed.FS
