package upload

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/ca-x/asset-syncer/internal/storage"
)

// Value is an upload parameter that is either a constant or computed per
// file from its storage name and local path.
type Value struct {
	constant string
	compute  func(name, localPath string) (string, error)
}

func Constant(s string) Value {
	return Value{constant: s}
}

func Computed(fn func(name, localPath string) (string, error)) Value {
	return Value{compute: fn}
}

func (v Value) IsComputed() bool {
	return v.compute != nil
}

func (v Value) Resolve(name, localPath string) (string, error) {
	if v.compute != nil {
		return v.compute(name, localPath)
	}
	return v.constant, nil
}

// TemplateData is available to templated parameter values.
type TemplateData struct {
	Name string
	Path string
	Dir  string
	Base string
	Ext  string
}

// TemplateValue parses s as a text/template when it contains an action and
// returns a computed value; plain strings become constants.
func TemplateValue(s string) (Value, error) {
	if !strings.Contains(s, "{{") {
		return Constant(s), nil
	}

	tmpl, err := template.New("param").Option("missingkey=error").Parse(s)
	if err != nil {
		return Value{}, fmt.Errorf("failed to parse template %q: %w", s, err)
	}

	return Computed(func(name, localPath string) (string, error) {
		var b strings.Builder
		err := tmpl.Execute(&b, TemplateData{
			Name: name,
			Path: localPath,
			Dir:  path.Dir(name),
			Base: path.Base(name),
			Ext:  path.Ext(name),
		})
		if err != nil {
			return "", fmt.Errorf("failed to render template %q for %s: %w", s, name, err)
		}
		return b.String(), nil
	}), nil
}

// Template maps canonical storage parameter names to values.
type Template map[string]Value

// NewTemplate builds a template from decoded configuration. Keys are
// canonicalised with storage.CanonicalParam; values may be Values, functions
// of (name, localPath), strings (templated when they contain "{{") or other
// scalars.
func NewTemplate(raw map[string]any) (Template, error) {
	t := make(Template, len(raw))
	for key, v := range raw {
		param, ok := storage.CanonicalParam(key)
		if !ok {
			return nil, fmt.Errorf("unsupported upload parameter %q (valid: %s, %s<key>)",
				key, strings.Join(storage.ValidParams(), ", "), storage.MetadataPrefix)
		}

		var (
			value Value
			err   error
		)
		switch val := v.(type) {
		case Value:
			value = val
		case func(name, localPath string) (string, error):
			value = Computed(val)
		case func(name, localPath string) string:
			value = Computed(func(name, localPath string) (string, error) {
				return val(name, localPath), nil
			})
		case string:
			value, err = TemplateValue(val)
		case nil:
			return nil, fmt.Errorf("upload parameter %q has no value", key)
		case map[string]any, []any:
			return nil, fmt.Errorf("upload parameter %q must be a scalar", key)
		default:
			value = Constant(fmt.Sprint(val))
		}
		if err != nil {
			return nil, err
		}
		t[param] = value
	}
	return t, nil
}

// Has reports whether the template defines param with a computed value or a
// non-empty constant.
func (t Template) Has(param string) bool {
	v, ok := t[param]
	if !ok {
		return false
	}
	return v.IsComputed() || v.constant != ""
}

// Resolve evaluates every value for one file.
func (t Template) Resolve(name, localPath string) (map[string]string, error) {
	params := make(map[string]string, len(t)+2)
	for _, key := range t.keys() {
		v, err := t[key].Resolve(name, localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", key, err)
		}
		params[key] = v
	}
	return params, nil
}

func (t Template) keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
