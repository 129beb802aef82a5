package server

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/brojonat/txinspector/service/inspector"
)

//go:embed templates/*.html
var templatesFS embed.FS

// TemplateRenderer holds parsed HTML templates
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewTemplateRenderer creates a new template renderer from embedded files
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &TemplateRenderer{
		templates: tmpl,
		logger:    logger,
	}, nil
}

// Render renders a template with the given data
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tr.templates.ExecuteTemplate(w, name, data)
}

// handleInspectorPage serves the transaction inspector page
func handleInspectorPage(renderer *TemplateRenderer, insp *inspector.Inspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := insp.CurrentEndpoint(r.Context())
		if err != nil {
			renderer.logger.Error("failed to load current endpoint", "error", err)
		}
		data := map[string]interface{}{
			"Current":   current,
			"Endpoints": insp.Endpoints(),
			"Wallets":   insp.Session().Adapters(),
		}
		if err := renderer.Render(w, "inspector.html", data); err != nil {
			renderer.logger.Error("failed to render template", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}
