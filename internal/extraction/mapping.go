// Package extraction evaluates declarative selector to transform mappings
// against page HTML. Site specific selectors live in configuration.
package extraction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Rule maps one CSS selector to one output field.
type Rule struct {
	Name      string
	Selector  string
	Attr      string // read an attribute instead of the text
	Transform string // see Transform
	Multiple  bool   // collect every match instead of the first
}

// Mapping is an ordered list of rules.
type Mapping struct {
	Rules []Rule
}

var whitespace = regexp.MustCompile(`\s+`)

// Transform applies a named transform to a raw value. Supported names:
// "" or "trim", "collapse", "digits", "lower", "after:<sep>", "before:<sep>".
func Transform(name, raw string) (string, error) {
	switch {
	case name == "" || name == "trim":
		return strings.TrimSpace(raw), nil
	case name == "collapse":
		return strings.TrimSpace(whitespace.ReplaceAllString(raw, " ")), nil
	case name == "lower":
		return strings.ToLower(strings.TrimSpace(raw)), nil
	case name == "digits":
		return strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, raw), nil
	case strings.HasPrefix(name, "after:"):
		sep := strings.TrimPrefix(name, "after:")
		_, after, ok := strings.Cut(raw, sep)
		if !ok {
			return "", nil
		}
		return strings.TrimSpace(after), nil
	case strings.HasPrefix(name, "before:"):
		sep := strings.TrimPrefix(name, "before:")
		before, _, _ := strings.Cut(raw, sep)
		return strings.TrimSpace(before), nil
	default:
		return "", fmt.Errorf("unknown transform %q", name)
	}
}

// Validate checks every transform name once so bad configuration fails at startup.
func (m Mapping) Validate() error {
	for _, r := range m.Rules {
		if r.Name == "" || r.Selector == "" {
			return fmt.Errorf("rule %q: name and selector are required", r.Name)
		}
		if _, err := Transform(r.Transform, ""); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	return nil
}

// Apply evaluates the mapping and returns only non-empty fields. Multiple
// rules produce []string values.
func (m Mapping) Apply(doc *goquery.Document) (map[string]any, error) {
	fields := make(map[string]any)
	for _, r := range m.Rules {
		sel := doc.Find(r.Selector)
		if sel.Length() == 0 {
			continue
		}
		if !r.Multiple {
			sel = sel.First()
		}

		var values []string
		var ruleErr error
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw := s.Text()
			if r.Attr != "" {
				raw, _ = s.Attr(r.Attr)
			}
			v, err := Transform(r.Transform, raw)
			if err != nil {
				ruleErr = fmt.Errorf("rule %q: %w", r.Name, err)
				return false
			}
			if v != "" {
				values = append(values, v)
			}
			return true
		})
		if ruleErr != nil {
			return nil, ruleErr
		}

		switch {
		case len(values) == 0:
		case r.Multiple:
			fields[r.Name] = values
		default:
			fields[r.Name] = values[0]
		}
	}
	return fields, nil
}

// ApplyHTML parses html and evaluates the mapping.
func (m Mapping) ApplyHTML(html string) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return m.Apply(doc)
}
