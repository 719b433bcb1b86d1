package cdnizer

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// assetAttributes lists, per element, the attributes holding asset references.
var assetAttributes = map[string][]string{
	"audio":  {"src"},
	"embed":  {"src"},
	"iframe": {"src"},
	"img":    {"src", "data-src"},
	"link":   {"href"},
	"object": {"data"},
	"script": {"src"},
	"source": {"src"},
	"video":  {"src", "poster"},
}

var assetSelector = func() string {
	var parts []string
	for tag, attrs := range assetAttributes {
		for _, attr := range attrs {
			parts = append(parts, tag+"["+attr+"]")
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}()

// rewriteHTML copies the document token by token and only changes asset
// attribute values, style attributes and <style> bodies. Scripts, text and
// comments keep their exact bytes.
func (r *Rewriter) rewriteHTML(name, text string, rules []FileRule) (string, int, error) {
	targets, err := r.htmlTargets(name, text, rules)
	if err != nil {
		return "", 0, err
	}

	var (
		b       strings.Builder
		count   int
		inStyle bool
	)
	b.Grow(len(text))

	z := html.NewTokenizer(strings.NewReader(text))
	for {
		tt := z.Next()
		// Raw is only valid until the next call on the tokenizer.
		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case html.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) {
				return "", 0, z.Err()
			}
			b.Write(raw)
			if count == 0 {
				return text, 0, nil
			}
			return b.String(), count, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tag, _ := z.TagName()
			out, n := r.rewriteTag(name, raw, string(tag), targets, rules)
			b.Write(out)
			count += n
			inStyle = tt == html.StartTagToken && string(tag) == "style"
		case html.TextToken:
			if inStyle {
				css, n := r.rewriteCSS(name, string(raw), rules)
				b.WriteString(css)
				count += n
				continue
			}
			b.Write(raw)
		default:
			inStyle = false
			b.Write(raw)
		}
	}
}

// htmlTargets maps every decoded asset reference in the document that
// resolves to a CDN URL onto that URL.
func (r *Rewriter) htmlTargets(name, text string, rules []FileRule) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, err
	}

	targets := make(map[string]string)
	doc.Find(assetSelector).Each(func(_ int, s *goquery.Selection) {
		for _, attr := range assetAttributes[goquery.NodeName(s)] {
			v, ok := s.Attr(attr)
			if !ok || v == "" {
				continue
			}
			if _, seen := targets[v]; seen {
				continue
			}
			if target, ok := r.resolve(name, v, rules); ok {
				targets[v] = target
			}
		}
	})
	return targets, nil
}

func (r *Rewriter) rewriteTag(name string, raw []byte, tag string, targets map[string]string, rules []FileRule) ([]byte, int) {
	attrs := assetAttributes[tag]

	var (
		b     bytes.Buffer
		last  int
		count int
	)
	for _, v := range scanAttributes(raw) {
		value := string(raw[v.start:v.end])

		var replacement string
		switch {
		case slices.Contains(attrs, v.name):
			target, ok := targets[html.UnescapeString(value)]
			if !ok {
				continue
			}
			replacement = html.EscapeString(target)
			if !v.quoted && strings.ContainsAny(replacement, " \t\n\r\f\"'=<>`") {
				replacement = `"` + replacement + `"`
			}
			count++
		case v.name == "style":
			css, n := r.rewriteCSS(name, value, rules)
			if n == 0 {
				continue
			}
			replacement = css
			count += n
		default:
			continue
		}

		b.Write(raw[last:v.start])
		b.WriteString(replacement)
		last = v.end
	}

	if count == 0 {
		return raw, 0
	}
	b.Write(raw[last:])
	return b.Bytes(), count
}

// attrValue locates one attribute value inside a raw start tag.
type attrValue struct {
	name       string
	start, end int
	quoted     bool
}

// scanAttributes finds the attribute values of a raw start tag, quoted or
// not, following the HTML tokenizer's attribute rules.
func scanAttributes(tag []byte) []attrValue {
	var attrs []attrValue

	i := 1
	for i < len(tag) && !isSpace(tag[i]) && tag[i] != '>' && tag[i] != '/' {
		i++
	}

	for i < len(tag) {
		for i < len(tag) && (isSpace(tag[i]) || tag[i] == '/') {
			i++
		}
		if i >= len(tag) || tag[i] == '>' {
			break
		}

		nameStart := i
		// a leading '=' belongs to the name
		i++
		for i < len(tag) && !isSpace(tag[i]) && tag[i] != '=' && tag[i] != '/' && tag[i] != '>' {
			i++
		}
		name := strings.ToLower(string(tag[nameStart:i]))

		for i < len(tag) && isSpace(tag[i]) {
			i++
		}
		if i >= len(tag) || tag[i] != '=' {
			continue
		}
		i++
		for i < len(tag) && isSpace(tag[i]) {
			i++
		}
		if i >= len(tag) {
			break
		}

		if q := tag[i]; q == '"' || q == '\'' {
			end := bytes.IndexByte(tag[i+1:], q)
			if end < 0 {
				break
			}
			attrs = append(attrs, attrValue{name: name, start: i + 1, end: i + 1 + end, quoted: true})
			i += end + 2
			continue
		}

		start := i
		for i < len(tag) && !isSpace(tag[i]) && tag[i] != '>' {
			i++
		}
		attrs = append(attrs, attrValue{name: name, start: start, end: i})
	}
	return attrs
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
