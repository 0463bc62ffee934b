package entity

import "time"

// Cookie is a browser cookie returned after navigation.
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Path    string
	Expires time.Time
}
