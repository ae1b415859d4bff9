package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// File is a stored blob.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Files is an in-memory identity.FileStore.
type Files struct {
	mu    sync.Mutex
	files map[string]File
}

// NewFiles returns an empty Files store.
func NewFiles() *Files {
	return &Files{files: make(map[string]File)}
}

// Save stores data and returns a generated id.
func (f *Files) Save(_ context.Context, name, mimeType string, data []byte) (string, error) {
	id := uuid.NewString()
	cp := append([]byte(nil), data...)
	f.mu.Lock()
	f.files[id] = File{Name: name, MimeType: mimeType, Data: cp}
	f.mu.Unlock()
	return id, nil
}

// Get returns the file stored under id.
func (f *Files) Get(id string) (File, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	return file, ok
}

// Len reports the number of stored files.
func (f *Files) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}
