package extraction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrContainerMissing means the results container is absent from the page.
var ErrContainerMissing = errors.New("results container not found")

// ListingRules locate item identifiers inside a search results page.
type ListingRules struct {
	Container   string
	Item        string
	IDAttribute string
	IDPrefix    string
}

// ItemIDs returns the unique identifiers in document order. A container with
// no items is a valid empty page; a missing container is an error.
func (r ListingRules) ItemIDs(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if r.Container != "" && doc.Find(r.Container).Length() == 0 {
		return nil, ErrContainerMissing
	}

	seen := make(map[string]struct{})
	ids := []string{}
	doc.Find(r.Item).Each(func(_ int, s *goquery.Selection) {
		raw, ok := s.Attr(r.IDAttribute)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		id := raw
		if r.IDPrefix != "" {
			_, after, found := strings.Cut(raw, r.IDPrefix)
			if !found {
				return
			}
			id = after
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	})
	return ids, nil
}

// ParseResultCount reads a results counter such as "1 234 résultats".
func ParseResultCount(text string) (int, error) {
	digits, _ := Transform("digits", text)
	if digits == "" {
		return 0, fmt.Errorf("no digits in result counter %q", text)
	}
	return strconv.Atoi(digits)
}

// ParsePageCount reads a pagination counter such as "Page 1 / 35".
func ParsePageCount(text string) (int, error) {
	_, after, ok := strings.Cut(text, "/")
	if !ok {
		return 0, fmt.Errorf("no page total in pagination counter %q", text)
	}
	digits, _ := Transform("digits", after)
	if digits == "" {
		return 0, fmt.Errorf("no page total in pagination counter %q", text)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("page total must be positive, got %d", n)
	}
	return n, nil
}
