package api

import (
	"embed"
	"html/template"
	"io"
	"time"

	types "github.com/sebas/callrouter/api/types/v1"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Templates holds all parsed templates
type Templates struct {
	dashboard *template.Template
}

// TemplateData holds data for rendering the dashboard
type TemplateData struct {
	Title   string
	Health  types.HealthResponse
	Stats   types.StatsResponse
	Active  []types.Session
	Queue   []types.Session
	Recent  []types.Session
	Refresh int
}

// templateFuncs provides helper functions for templates
var templateFuncs = template.FuncMap{
	"formatDuration": func(seconds int64) string {
		return (time.Duration(seconds) * time.Second).String()
	},
	"formatMillis": func(ms int64) string {
		return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
	},
	"caller": func(s types.Session) string {
		if s.Channels.In == nil {
			return "-"
		}
		c := s.Channels.In.Caller
		if c.Name != "" && c.Name != c.Number {
			return c.Name + " <" + c.Number + ">"
		}
		if c.Number == "" {
			return "unknown"
		}
		return c.Number
	},
}

// NewTemplates parses and returns all templates
func NewTemplates() (*Templates, error) {
	dashboard, err := template.New("dashboard.html").Funcs(templateFuncs).ParseFS(templatesFS, "templates/dashboard.html")
	if err != nil {
		return nil, err
	}
	return &Templates{dashboard: dashboard}, nil
}

// RenderDashboard renders the status page
func (t *Templates) RenderDashboard(w io.Writer, data TemplateData) error {
	return t.dashboard.Execute(w, data)
}
