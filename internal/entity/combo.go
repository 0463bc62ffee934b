package entity

import "strings"

// Facet is one configurable search dimension and the values to crawl for it.
type Facet struct {
	Name   string   `mapstructure:"name" json:"name"`
	Values []string `mapstructure:"values" json:"values"`
}

// FacetValue is a single facet assignment inside a combo.
type FacetValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ParameterCombo is one concrete assignment of every configured facet.
// Facet order follows the configuration and is preserved in URLs and keys.
type ParameterCombo struct {
	Facets []FacetValue `json:"facets"`
}

// Key identifies the crawl lineage of the combo, e.g. "plombier-paris".
func (c ParameterCombo) Key() string {
	parts := make([]string, 0, len(c.Facets))
	for _, f := range c.Facets {
		parts = append(parts, f.Value)
	}
	return strings.Join(parts, "-")
}

// Get returns the value assigned to the named facet.
func (c ParameterCombo) Get(name string) (string, bool) {
	for _, f := range c.Facets {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// BuildCombos returns the Cartesian product of the facet value lists.
// A facet without values yields no combos at all.
func BuildCombos(facets []Facet) []ParameterCombo {
	if len(facets) == 0 {
		return nil
	}
	combos := []ParameterCombo{{}}
	for _, facet := range facets {
		next := make([]ParameterCombo, 0, len(combos)*len(facet.Values))
		for _, combo := range combos {
			for _, value := range facet.Values {
				assigned := make([]FacetValue, len(combo.Facets), len(combo.Facets)+1)
				copy(assigned, combo.Facets)
				assigned = append(assigned, FacetValue{Name: facet.Name, Value: value})
				next = append(next, ParameterCombo{Facets: assigned})
			}
		}
		combos = next
	}
	return combos
}
