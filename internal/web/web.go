// Package web embeds the page template and its static assets.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

// IndexTemplate is the name the page is rendered under.
const IndexTemplate = "index.html"

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static/*
var staticFiles embed.FS

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFiles, "templates/*.html")
}

// StaticFS returns the embedded assets with the static folder as root.
func StaticFS() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}

// Register installs the page template and the /static route on router.
func Register(router *gin.Engine) error {
	tmpl, err := Templates()
	if err != nil {
		return err
	}
	assets, err := StaticFS()
	if err != nil {
		return err
	}
	router.SetHTMLTemplate(tmpl)
	router.StaticFS("/static", http.FS(assets))
	return nil
}
