// Package statestore keeps the question filter's persisted criteria and its
// named presets between console sessions.
package statestore

import (
	"fmt"
	"io"
	"strings"

	"cbtadmin/internal/filter"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Backend is a persisted-state store that also holds presets.
type Backend interface {
	filter.Persister
	filter.PresetStore
	io.Closer
}

// Open selects a backend by name. An empty name means the file backend.
func Open(backend, path string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(path), nil
	case BackendSQLite:
		st, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", filter.ErrInvalidPreset
	}
	return name, nil
}
