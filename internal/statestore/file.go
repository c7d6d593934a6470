package statestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"

	"cbtadmin/internal/filter"
)

const fileVersion = 1

type fileDoc struct {
	Version  int                        `json:"version"`
	Criteria *filter.Criteria           `json:"criteria,omitempty"`
	Presets  map[string]filter.Criteria `json:"presets,omitempty"`
}

// FileStore keeps everything in one JSON document that is replaced atomically
// on every write.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) LoadCriteria() (filter.Criteria, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return filter.Criteria{}, false, err
	}
	if doc.Criteria == nil {
		return filter.Criteria{}, false, nil
	}
	return doc.Criteria.Clone(), true, nil
}

func (f *FileStore) SaveCriteria(c filter.Criteria) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	cp := c.Clone()
	doc.Criteria = &cp
	return f.write(doc)
}

func (f *FileStore) SavePreset(name string, c filter.Criteria) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	if doc.Presets == nil {
		doc.Presets = map[string]filter.Criteria{}
	}
	doc.Presets[name] = c.Clone()
	return f.write(doc)
}

func (f *FileStore) LoadPreset(name string) (filter.Criteria, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return filter.Criteria{}, false, err
	}
	c, ok := doc.Presets[name]
	if !ok {
		return filter.Criteria{}, false, nil
	}
	return c.Clone(), true, nil
}

func (f *FileStore) DeletePreset(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Presets[name]; !ok {
		return filter.ErrPresetNotFound
	}
	delete(doc.Presets, name)
	return f.write(doc)
}

func (f *FileStore) ListPresets() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(doc.Presets))
	for name := range doc.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) read() (fileDoc, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return fileDoc{Version: fileVersion}, nil
	}
	if err != nil {
		return fileDoc{}, fmt.Errorf("read state file: %w", err)
	}
	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fileDoc{}, fmt.Errorf("parse state file %s: %w", f.path, err)
	}
	if doc.Version > fileVersion {
		return fileDoc{}, fmt.Errorf("state file %s has unsupported version %d", f.path, doc.Version)
	}
	return doc, nil
}

func (f *FileStore) write(doc fileDoc) error {
	doc.Version = fileVersion
	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	buf = append(buf, '\n')
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
