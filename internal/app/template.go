package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/render"

	"github.com/productx/backoffice/internal/query"
)

// maxListedTargets is how many target ids a journal row lists before
// summarising the rest.
const maxListedTargets = 5

// TemplateRenderer renders the console's screens and htmx fragments.
//
// Every screen under templates/ (home.html, resource/, journal/, errors/) is
// compiled on top of a shared set made of templates/layouts and
// templates/partials, so a full page and the fragment an htmx swap asks for
// use the same partial definitions. Screens call {{ template "base" . }} and
// fill its "title" and "content" blocks.
//
// In debug mode the set is parsed again for every render so template edits
// show up without a restart.
type TemplateRenderer struct {
	screens map[string]*template.Template // release mode only
	fs      fs.FS
	funcMap template.FuncMap
	debug   bool
}

var _ render.HTMLRender = (*TemplateRenderer)(nil)

// NewTemplateRenderer compiles the templates/ tree of fsys. In release mode a
// broken template fails here rather than on the first request.
func NewTemplateRenderer(fsys fs.FS, debug bool) (*TemplateRenderer, error) {
	r := &TemplateRenderer{
		fs:      fsys,
		funcMap: templateFuncMap(),
		debug:   debug,
	}

	if !debug {
		screens, err := r.compile()
		if err != nil {
			return nil, fmt.Errorf("parse templates: %w", err)
		}
		r.screens = screens
	}

	return r, nil
}

// Instance implements render.HTMLRender. name is relative to templates/,
// e.g. "resource/table.html".
func (r *TemplateRenderer) Instance(name string, data any) render.Render {
	screens := r.screens
	if r.debug {
		var err error
		if screens, err = r.compile(); err != nil {
			return &HTMLInstance{Name: name, err: err}
		}
	}
	return &HTMLInstance{Template: screens[name], Name: name, Data: data}
}

func (r *TemplateRenderer) compile() (map[string]*template.Template, error) {
	base := template.New("").Funcs(r.funcMap)
	for _, pattern := range []string{"templates/layouts/*.html", "templates/partials/*.html"} {
		files, err := fs.Glob(r.fs, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, f := range files {
			if err := parseFile(base.New(f), r.fs, f); err != nil {
				return nil, err
			}
		}
	}

	files, err := r.screenFiles()
	if err != nil {
		return nil, fmt.Errorf("discover screens: %w", err)
	}

	screens := make(map[string]*template.Template, len(files))
	for _, f := range files {
		set, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone base for %s: %w", f, err)
		}
		name := strings.TrimPrefix(f, "templates/")
		if err := parseFile(set.New(name), r.fs, f); err != nil {
			return nil, err
		}
		screens[name] = set
	}
	return screens, nil
}

func parseFile(t *template.Template, fsys fs.FS, path string) error {
	content, err := fs.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := t.Parse(string(content)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// screenFiles lists the .html files under templates/ outside layouts/ and
// partials/.
func (r *TemplateRenderer) screenFiles() ([]string, error) {
	var files []string
	err := fs.WalkDir(r.fs, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		rel := strings.TrimPrefix(path, "templates/")
		if strings.HasPrefix(rel, "layouts/") || strings.HasPrefix(rel, "partials/") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func templateFuncMap() template.FuncMap {
	return template.FuncMap{
		// json embeds v in a JavaScript context such as hx-vals.
		"json": func(v any) template.JS {
			b, err := json.Marshal(v)
			if err != nil {
				return template.JS("null")
			}
			return template.JS(b)
		},

		// formatDate uses the layout of the date filters. The zero time is blank.
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(query.DateLayout)
		},

		// dict passes several named values to a partial.
		"dict": func(pairs ...any) (map[string]any, error) {
			if len(pairs)%2 != 0 {
				return nil, fmt.Errorf("dict: odd number of arguments")
			}
			m := make(map[string]any, len(pairs)/2)
			for i := 0; i < len(pairs); i += 2 {
				key, ok := pairs[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict: key %v is not a string", pairs[i])
				}
				m[key] = pairs[i+1]
			}
			return m, nil
		},

		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },

		"targets": formatTargets,
	}
}

// formatTargets shortens the comma separated target ids of a journal entry.
func formatTargets(ids string) string {
	var list []string
	for id := range strings.SplitSeq(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			list = append(list, id)
		}
	}
	if len(list) <= maxListedTargets {
		return strings.Join(list, ", ")
	}
	return fmt.Sprintf("%s +%d more", strings.Join(list[:maxListedTargets], ", "), len(list)-maxListedTargets)
}

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// HTMLInstance renders one screen. Output is buffered so a failing template
// never leaves half a page or half a fragment on the wire.
type HTMLInstance struct {
	Template *template.Template
	Name     string
	Data     any
	err      error // compile error in debug mode
}

const htmlContentType = "text/html; charset=utf-8"

func (h *HTMLInstance) Render(w http.ResponseWriter) error {
	if h.err != nil {
		return h.err
	}
	if h.Template == nil {
		return fmt.Errorf("template %q not found", h.Name)
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()
	if err := h.Template.ExecuteTemplate(buf, h.Name, h.Data); err != nil {
		return fmt.Errorf("execute %s: %w", h.Name, err)
	}

	h.WriteContentType(w)
	_, err := buf.WriteTo(w)
	return err
}

func (h *HTMLInstance) WriteContentType(w http.ResponseWriter) {
	header := w.Header()
	if val := header["Content-Type"]; len(val) == 0 {
		header["Content-Type"] = []string{htmlContentType}
	}
}
