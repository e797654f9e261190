package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"gombonmongoli/pkg/utils"
)

// File keeps a document as an indented JSON file. Updates within the process are serialized
// by a mutex; the file is replaced with a rename so a crash never leaves half a document.
type File[T any] struct {
	mu   sync.Mutex
	path string
	def  func() T
}

func NewFile[T any](dir, name string, def func() T) *File[T] {
	return &File[T]{
		path: filepath.Join(dir, name+".json"),
		def:  def,
	}
}

func (f *File[T]) Path() string {
	return f.path
}

func (f *File[T]) Load(ctx context.Context) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return f.def(), err
	}
	return f.read(), nil
}

func (f *File[T]) Update(ctx context.Context, fn func(*T) error) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return f.def(), err
	}

	v := f.read()
	if err := fn(&v); err != nil {
		return v, err
	}
	if err := utils.Save(f.path, v); err != nil {
		return v, err
	}
	return v, nil
}

func (f *File[T]) read() T {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("could not read document, using default", "path", f.path, "error", err)
		}
		return f.def()
	}
	v, err := decode(b, f.def)
	if err != nil {
		log.Warn("could not parse document, using default", "path", f.path, "error", err)
	}
	return v
}
