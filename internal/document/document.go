// Package document provides the durable JSON document primitive used for the
// schedule store and the network credentials.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/agsys/relay-controller/internal/fault"
)

// Document is a whole-file read/write primitive
type Document interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Path() string
}

// File is a Document stored on an afero filesystem. Writes go to a temp
// file in the same directory and are renamed over the target, so a reader
// sees either the old or the new document, never a torn one.
type File struct {
	fs   afero.Fs
	path string
}

// NewFile returns a document at path on fs
func NewFile(fs afero.Fs, path string) *File {
	return &File{fs: fs, path: path}
}

func (f *File) Path() string { return f.path }

// Read returns the document contents. A missing file yields an error
// satisfying errors.Is(err, os.ErrNotExist).
func (f *File) Read() ([]byte, error) {
	return afero.ReadFile(f.fs, f.path)
}

func (f *File) Write(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := f.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(f.fs, dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		f.fs.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		f.fs.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		f.fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := f.fs.Rename(tmpName, f.path); err != nil {
		f.fs.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReadJSON decodes the document into v. Failures are reported as
// PersistenceError; a missing document also matches os.ErrNotExist.
func ReadJSON(doc Document, v interface{}) error {
	data, err := doc.Read()
	if err != nil {
		return &fault.PersistenceError{Op: "read", Path: doc.Path(), Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &fault.PersistenceError{Op: "read", Path: doc.Path(), Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// WriteJSON encodes v and atomically replaces the document
func WriteJSON(doc Document, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &fault.PersistenceError{Op: "write", Path: doc.Path(), Err: fmt.Errorf("encode: %w", err)}
	}
	if err := doc.Write(append(data, '\n')); err != nil {
		return &fault.PersistenceError{Op: "write", Path: doc.Path(), Err: err}
	}
	return nil
}

// IsMissing reports whether err stems from a document that does not exist
func IsMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
