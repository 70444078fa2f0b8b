package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileStore keeps all values of one namespace in a single JSON file with
// owner-only permissions. Writes go to a temp file that is renamed over the
// original, so a crash never leaves a half-written store behind.
type FileStore struct {
	path      string
	namespace string
	mu        sync.Mutex
}

var _ Store = (*FileStore)(nil)

// fileDoc is the on-disk layout: namespace -> key -> value.
type fileDoc map[string]map[string]json.RawMessage

// NewFileStore creates a FileStore at path. The file is created lazily on
// the first write.
func NewFileStore(path, namespace string) *FileStore {
	return &FileStore{path: path, namespace: namespace}
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	v, ok := doc[f.namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (f *FileStore) Set(_ context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("store: value for %s is not valid JSON", key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc[f.namespace] == nil {
		doc[f.namespace] = make(map[string]json.RawMessage)
	}
	doc[f.namespace][key] = bytes.Clone(value)
	return f.save(doc)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := doc[f.namespace][key]; !ok {
		return nil
	}
	delete(doc[f.namespace], key)
	return f.save(doc)
}

func (f *FileStore) load() (fileDoc, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(fileDoc), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return make(fileDoc), nil
	}

	doc := make(fileDoc)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *FileStore) save(doc fileDoc) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}

	log.Trace().Str("path", f.path).Int("bytes", len(data)).Msg("Store written")
	return nil
}
