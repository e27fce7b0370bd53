package xid

import "github.com/google/uuid"

// New returns a prefixed random identifier, e.g. "req-3f2a...".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Valid reports whether id looks like one produced by New with prefix.
func Valid(prefix string, id string) bool {
	if len(id) <= len(prefix)+1 || id[:len(prefix)+1] != prefix+"-" {
		return false
	}
	_, err := uuid.Parse(id[len(prefix)+1:])
	return err == nil
}
