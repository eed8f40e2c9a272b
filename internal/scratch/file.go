package scratch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kuitang/dashboard-e2e/internal/errs"
)

// FileStore keeps the state in a local JSON file.
type FileStore struct {
	Path string
}

// NewFileStore returns a store for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Location() string {
	return f.Path
}

// Save writes the state through a temp file and a rename so a crash never
// leaves a truncated artifact behind.
func (f *FileStore) Save(_ context.Context, s State) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return errs.Wrap(errs.Internal, "create scratch temp file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errs.Wrap(errs.Internal, "write scratch state", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.Internal, "close scratch state", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return errs.Wrap(errs.Internal, "rename scratch state", err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context) (State, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, errs.Wrap(errs.NotFound, fmt.Sprintf("scratch state %s", f.Path), err)
	}
	if err != nil {
		return State{}, errs.Wrap(errs.Internal, fmt.Sprintf("read scratch state %s", f.Path), err)
	}
	return Decode(data)
}

// Delete removes the file. A missing file is not an error.
func (f *FileStore) Delete(_ context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.Wrap(errs.Internal, fmt.Sprintf("remove scratch state %s", f.Path), err)
	}
	return nil
}
