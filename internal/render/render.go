// Package render produces the per-tenant Kubernetes manifests from text
// templates. Built-in templates are embedded; a directory may override them
// file by file.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/hostclick/kapi/internal/tenancy"
)

//go:embed templates/*.tmpl
var builtin embed.FS

var (
	ErrUnknownKind = errors.New("unknown template kind")
	// ErrNoBackend reports an ingress render without a backend service.
	ErrNoBackend = errors.New("suspension page backend service is not configured")
)

// Kind selects a template.
type Kind string

const (
	KindIngress  Kind = "ingress"
	KindWorkload Kind = "workload"
)

var files = map[Kind]string{
	KindIngress:  "ingress.yaml.tmpl",
	KindWorkload: "wordpress.yaml.tmpl",
}

// ParseKind accepts "ingress", "workload" and the "wordpress" alias.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ingress":
		return KindIngress, nil
	case "workload", "wordpress":
		return KindWorkload, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type Options struct {
	// Dir holds override templates named like the embedded ones.
	Dir string
	// Namespace is used when Params carries none. Empty leaves it to the engine.
	Namespace       string
	Backend         string
	BackendPort     int
	IngressClass    string
	Chart           string
	ChartVersion    string
	SourceName      string
	SourceNamespace string
}

// Params are the per-call inputs.
type Params struct {
	VHost   string
	Enabled bool
	// Name overrides the resource name derived from VHost.
	Name      string
	Namespace string
}

type Renderer struct {
	opts      Options
	templates map[Kind]*template.Template
}

// Helm caps release names at 53 characters.
const maxReleaseName = 53

type values struct {
	Name            string
	ReleaseName     string
	Namespace       string
	VHost           string
	Enabled         bool
	Replicas        int
	Backend         string
	BackendPort     int
	IngressClass    string
	Chart           string
	ChartVersion    string
	SourceName      string
	SourceNamespace string
}

var funcs = template.FuncMap{
	// quote renders a string as a YAML-safe double quoted scalar.
	"quote": func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	},
}

// New parses every template up front so a bad override fails at startup.
func New(opts Options) (*Renderer, error) {
	if opts.BackendPort == 0 {
		opts.BackendPort = 80
	}
	if opts.Chart == "" {
		opts.Chart = "wordpress"
	}
	if opts.SourceName == "" {
		opts.SourceName = "bitnami"
	}
	r := &Renderer{opts: opts, templates: make(map[Kind]*template.Template, len(files))}
	for kind, file := range files {
		text, source, err := load(opts.Dir, file)
		if err != nil {
			return nil, err
		}
		tpl, err := template.New(file).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s template from %s: %w", kind, source, err)
		}
		r.templates[kind] = tpl
	}
	return r, nil
}

func load(dir, file string) (text, source string, err error) {
	if dir != "" {
		path := filepath.Join(dir, file)
		b, err := os.ReadFile(path) // #nosec G304 -- operator supplied template directory
		switch {
		case err == nil:
			return string(b), path, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", "", fmt.Errorf("read template %s: %w", path, err)
		}
	}
	b, err := builtin.ReadFile("templates/" + file)
	if err != nil {
		return "", "", err
	}
	return string(b), "embedded", nil
}

// Render returns the manifest text for kind.
func (r *Renderer) Render(kind Kind, p Params) (string, error) {
	tpl, ok := r.templates[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	// Only the suspension ingress routes to the backend. Unsuspend renders it
	// for its name alone.
	if kind == KindIngress && !p.Enabled && strings.TrimSpace(r.opts.Backend) == "" {
		return "", ErrNoBackend
	}
	ns := p.Namespace
	if ns == "" {
		ns = r.opts.Namespace
	}
	name := tenancy.Tenant{VHost: p.VHost, Name: p.Name}.ResourceName()
	v := values{
		Name:            name,
		ReleaseName:     releaseName(name),
		Namespace:       ns,
		VHost:           p.VHost,
		Enabled:         p.Enabled,
		Backend:         r.opts.Backend,
		BackendPort:     r.opts.BackendPort,
		IngressClass:    r.opts.IngressClass,
		Chart:           r.opts.Chart,
		ChartVersion:    r.opts.ChartVersion,
		SourceName:      r.opts.SourceName,
		SourceNamespace: r.opts.SourceNamespace,
	}
	if p.Enabled {
		v.Replicas = 1
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render %s for %s: %w", kind, p.VHost, err)
	}
	return buf.String(), nil
}

func releaseName(name string) string {
	if len(name) <= maxReleaseName {
		return name
	}
	return strings.TrimRight(name[:maxReleaseName], "-")
}
