package id

import "github.com/google/uuid"

// New returns a random job ID. Version 7 IDs sort by creation time, which
// keeps output prefixes in object storage roughly ordered.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// Valid reports whether s is an ID this package could have produced.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
