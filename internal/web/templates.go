package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageNames = []string{"index", "password", "oauth", "welcome"}

// pages holds one template set per page, each combined with the shared layout.
type pages struct {
	byName map[string]*template.Template
}

var funcs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04 MST")
	},
}

func loadPages() (*pages, error) {
	p := &pages{byName: make(map[string]*template.Template, len(pageNames))}

	for _, name := range pageNames {
		tmpl, err := template.New("layout.html").Funcs(funcs).ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		p.byName[name] = tmpl
	}

	return p, nil
}

// render executes into a buffer first so a template error never leaves a half written
// page, and so session cookies set during the handler are still writable until here.
func (p *pages) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	tmpl, ok := p.byName[name]
	if !ok {
		zerolog.Ctx(r.Context()).Error().Str("page", name).Msg("unknown page")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("page", name).Msg("failed to render page")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
