// Package view holds the HTML templates for the student pages.
package view

import (
	"embed"
	"html/template"
	"time"

	"github.com/stemsi/student-directory/internal/model"
)

// LongDateLayout renders graduation dates on the detail page.
const LongDateLayout = "January 02, 2006"

//go:embed templates/*.tmpl
var files embed.FS

// Templates parses every page template with the helper funcs installed.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(Funcs()).ParseFS(files, "templates/*.tmpl")
}

// Funcs are the helpers available to templates.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"longDate": LongDate,
		"isoDate":  isoDate,
		"majors":   func() []model.Major { return model.Majors },
	}
}

// LongDate formats d like "May 05, 2025". A nil date renders empty.
func LongDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(LongDateLayout)
}

func isoDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(model.DateLayout)
}
