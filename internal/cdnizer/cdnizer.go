// Package cdnizer rewrites local asset references in HTML and CSS artifacts
// so they point at a CDN origin.
package cdnizer

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/ca-x/asset-syncer/internal/files"
	"github.com/ca-x/asset-syncer/internal/rule"
	"go.uber.org/zap"
)

var (
	targetPattern = regexp.MustCompile(`(?i)\.(html?|css)$`)
	htmlPattern   = regexp.MustCompile(`(?i)\.html?$`)
	schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
	cssURLPattern = regexp.MustCompile(`url\(\s*(['"]?)([^'")\s]+)(['"]?)\s*\)`)
	cssImport     = regexp.MustCompile(`@import\s+(['"])([^'"]+)(['"])`)
)

// FileRule rewrites references matching Glob. CDNBase overrides the default
// CDN base for those references.
type FileRule struct {
	Glob    string `mapstructure:"glob"`
	CDNBase string `mapstructure:"cdn_base"`
}

type Options struct {
	DefaultCDNBase string     `mapstructure:"default_cdn_base"`
	RelativeRoot   string     `mapstructure:"relative_root"`
	Files          []FileRule `mapstructure:"files"`
}

// Enabled reports whether any rewrite option is set.
func (o Options) Enabled() bool {
	return o.DefaultCDNBase != "" || o.RelativeRoot != "" || len(o.Files) > 0
}

type Rewriter struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{opts: opts, logger: logger}
}

// IsTarget reports whether name is an HTML or CSS file.
func IsTarget(name string) bool {
	return targetPattern.MatchString(name)
}

// Rewrite replaces references in every HTML or CSS candidate and writes the
// result back to the candidate's local path. referenceNames are the storage
// names that may be served from the CDN.
func (r *Rewriter) Rewrite(ctx context.Context, candidates []files.File, referenceNames []string) error {
	if !r.opts.Enabled() {
		return nil
	}

	rules := r.Rules(referenceNames)

	for _, f := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !IsTarget(f.Name) {
			continue
		}
		if err := r.rewriteFile(f, rules); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rewriter) rewriteFile(f files.File, rules []FileRule) error {
	info, err := os.Stat(f.Path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", f.Path, err)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Path, err)
	}

	rewritten, count, err := r.RewriteText(f.Name, string(data), rules)
	if err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", f.Name, err)
	}
	if count == 0 {
		return nil
	}

	if err := os.WriteFile(f.Path, []byte(rewritten), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.Path, err)
	}

	r.logger.Debug("Rewrote asset references",
		zap.String("file", f.Name),
		zap.Int("references", count))
	return nil
}

// RewriteText rewrites the content of the file called name and returns the
// new text together with the number of replaced references. In HTML only
// asset attributes, style attributes and <style> bodies are touched.
func (r *Rewriter) RewriteText(name, text string, rules []FileRule) (string, int, error) {
	if htmlPattern.MatchString(name) {
		return r.rewriteHTML(name, text, rules)
	}
	out, count := r.rewriteCSS(name, text, rules)
	return out, count, nil
}

func (r *Rewriter) rewriteCSS(name, text string, rules []FileRule) (string, int) {
	count := 0
	replace := func(re *regexp.Regexp) {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			sub := re.FindStringSubmatch(m)
			target, ok := r.resolve(name, sub[2], rules)
			if !ok {
				return m
			}
			count++
			return strings.Replace(m, sub[1]+sub[2]+sub[3], sub[1]+target+sub[3], 1)
		})
	}
	replace(cssURLPattern)
	replace(cssImport)

	return text, count
}

// Rules expands reference names into globs matching the name itself or the
// name under any directory prefix. Explicit rules take precedence.
func (r *Rewriter) Rules(referenceNames []string) []FileRule {
	rules := make([]FileRule, 0, len(r.opts.Files)+2*len(referenceNames))
	rules = append(rules, r.opts.Files...)
	for _, name := range referenceNames {
		rules = append(rules, FileRule{Glob: name}, FileRule{Glob: "*/" + name})
	}
	return rules
}

// resolve maps a reference found in the file called name to its CDN URL.
func (r *Rewriter) resolve(name, ref string, rules []FileRule) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "//") ||
		schemePattern.MatchString(ref) || strings.Contains(ref, "{{") {
		return "", false
	}

	refPath, suffix := ref, ""
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		refPath, suffix = ref[:i], ref[i:]
	}

	var resolved string
	if strings.HasPrefix(refPath, "/") {
		resolved = strings.TrimPrefix(refPath, "/")
		if root := strings.Trim(r.opts.RelativeRoot, "/"); root != "" {
			resolved = strings.TrimPrefix(resolved, root+"/")
		}
	} else {
		resolved = path.Join(path.Dir(name), refPath)
	}
	resolved = path.Clean(resolved)
	if resolved == "." || strings.HasPrefix(resolved, "../") || resolved == ".." {
		return "", false
	}

	for _, fr := range rules {
		ok, err := rule.Test(rule.Glob(fr.Glob), resolved)
		if err != nil || !ok {
			continue
		}
		base := fr.CDNBase
		if base == "" {
			base = r.opts.DefaultCDNBase
		}
		if base == "" {
			continue
		}
		return strings.TrimRight(base, "/") + "/" + resolved + suffix, true
	}
	return "", false
}
