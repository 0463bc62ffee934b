package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Hash creates a SHA256 hash of a string.
// This is useful for creating consistent, safe keys for Redis.
func Hash(s string) string {
	h := sha256.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// Param is an ordered query parameter.
type Param struct {
	Key   string
	Value string
}

// BuildURL appends params to base in the given order. Later params override
// earlier ones with the same key, keeping the first position.
func BuildURL(base string, params []Param) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	var order []string
	values := make(map[string]string)
	for _, p := range params {
		if _, seen := values[p.Key]; !seen {
			order = append(order, p.Key)
		}
		values[p.Key] = p.Value
	}

	var b strings.Builder
	b.WriteString(u.RawQuery)
	for _, k := range order {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(values[k]))
	}
	u.RawQuery = b.String()
	return u.String(), nil
}

// SortedParams turns a map into params ordered by key.
func SortedParams(m map[string]string) []Param {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	params := make([]Param, 0, len(keys))
	for _, k := range keys {
		params = append(params, Param{Key: k, Value: m[k]})
	}
	return params
}

// ExpandTemplate replaces {id} in a detail URL template.
func ExpandTemplate(template, id string) string {
	return strings.ReplaceAll(template, "{id}", url.PathEscape(id))
}

// PageParam formats a 1-based page number.
func PageParam(key string, page int) Param {
	return Param{Key: key, Value: strconv.Itoa(page)}
}
