// Package prompt renders everything the engine says to the model: the
// persona system prompt, the unread/timeout/proactive payloads, and
// the fused narrative weaving chat history with the mental log.
package prompt

import (
	"io/fs"
	"sort"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// Renderer holds the parsed prompt templates. Templates are embedded
// at build time; parse errors surface on first render.
type Renderer struct {
	templates *template.Template
	parseErr  error
}

var defaultRenderer = NewRenderer(TemplateFS)

// NewRenderer parses every templates/*.tmpl file in the given fs.
func NewRenderer(templateFS fs.FS) *Renderer {
	renderer := &Renderer{}
	renderer.templates, renderer.parseErr = parseTemplates(templateFS)
	return renderer
}

// RenderPrompt renders a named template with the provided context.
func (r *Renderer) RenderPrompt(name string, ctx any) (string, error) {
	if r.parseErr != nil {
		return "", errors.Wrap(r.parseErr, "failed to initialize templates")
	}

	if r.templates.Lookup(name) == nil {
		return "", errors.Errorf("template %s not found", name)
	}

	var buf strings.Builder
	if err := r.templates.ExecuteTemplate(&buf, name, ctx); err != nil {
		return "", errors.Wrapf(err, "failed to execute template %s", name)
	}

	return buf.String(), nil
}

func parseTemplates(templateFS fs.FS) (*template.Template, error) {
	paths, err := collectTemplatePaths(templateFS, "templates")
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect template paths")
	}

	templates := template.New("templates")
	for _, path := range paths {
		content, err := fs.ReadFile(templateFS, path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read template file %s", path)
		}
		if _, err := templates.New(path).Parse(string(content)); err != nil {
			return nil, errors.Wrapf(err, "failed to parse template %s", path)
		}
	}

	return templates, nil
}

func collectTemplatePaths(templateFS fs.FS, dir string) ([]string, error) {
	var paths []string
	err := fs.WalkDir(templateFS, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}
