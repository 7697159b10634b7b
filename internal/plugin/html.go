package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/wasmbundle/internal/bundle"
	"github.com/wolfeidau/wasmbundle/internal/config"
)

const defaultPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{ .Title }}</title>
</head>
<body>
{{- range .Scripts }}
  <script type="module" src="{{ . }}"></script>
{{- end }}
</body>
</html>
`

type HTMLParams struct {
	Entry    string `yaml:"entry"`
	Title    string `yaml:"title"`
	Filename string `yaml:"filename"`
	Template string `yaml:"template"`
}

// HTML generates a page loading an entry's scripts once bundling has finished.
// A page already provided by another step, such as the static copy, wins.
type HTML struct {
	entry    string
	title    string
	filename string
	tmpl     *template.Template
}

func NewHTML(cfg *config.Config, params map[string]any) (bundle.Plugin, error) {
	p := HTMLParams{
		Title:    "wasmbundle",
		Filename: "index.html",
	}
	if err := config.DecodeParams(params, &p); err != nil {
		return nil, err
	}

	if p.Entry == "" {
		names := cfg.EntryNames()
		if len(names) == 0 {
			return nil, errors.New("html plugin requires an entry")
		}
		p.Entry = names[0]
	}
	if _, ok := cfg.Entry[p.Entry]; !ok {
		return nil, fmt.Errorf("html plugin entry %q is not defined", p.Entry)
	}

	tmpl := template.New(p.Filename)

	var err error
	if p.Template != "" {
		tmpl, err = tmpl.ParseFiles(cfg.Path(p.Template))
		if err == nil {
			tmpl = tmpl.Lookup(filepath.Base(p.Template))
		}
	} else {
		tmpl, err = tmpl.Parse(defaultPage)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse html template: %w", err)
	}
	if tmpl == nil {
		return nil, fmt.Errorf("html template %q not found", p.Template)
	}

	return &HTML{
		entry:    p.Entry,
		title:    p.Title,
		filename: p.Filename,
		tmpl:     tmpl,
	}, nil
}

func (h *HTML) Name() string {
	return config.KindHTML
}

func (h *HTML) Apply(_ context.Context, comp *bundle.Compilation) error {
	comp.AfterBundle(h.render)
	return nil
}

func (h *HTML) render(_ context.Context, comp *bundle.Compilation) error {
	if _, exists := comp.Asset(h.filename); exists {
		log.Debug().Str("file", h.filename).Msg("Page already provided, skipping generation")
		return nil
	}

	scripts, _, err := comp.Metadata().LoadScripts(h.entry)
	if err != nil {
		return fmt.Errorf("html: %w", err)
	}

	data := map[string]any{
		"Title":   h.title,
		"Scripts": scripts,
		"BuildID": comp.BuildID,
		"Mode":    string(comp.Config.Mode),
	}

	buf := new(bytes.Buffer)
	if err := h.tmpl.Execute(buf, data); err != nil {
		return fmt.Errorf("failed to render html template: %w", err)
	}

	return comp.EmitAsset(h.filename, config.KindHTML, buf.Bytes())
}
