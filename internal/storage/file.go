package storage

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

func init() {
	Register("file", func(ctx context.Context, uri string) (Storage, error) {
		return NewFile(uri)
	})
}

// File is a local-filesystem Storage, writing objects atomically via
// renameio so a crash mid-write never leaves a half-written object visible
// under its final name.
type File struct {
	uri  string
	root string
}

// NewFile constructs a File storage rooted at the path encoded in uri
// (file:///abs/path).
func NewFile(uri string) (*File, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, &Error{Kind: ErrorKindInternal, Op: "open", Path: uri, Err: err}
	}
	root := u.Path
	if root == "" {
		root = u.Opaque
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Kind: ErrorKindIO, Op: "open", Path: root, Err: err}
	}
	return &File{uri: uri, root: root}, nil
}

func (f *File) URI() string { return f.uri }

func (f *File) resolve(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

func (f *File) Put(ctx context.Context, path string, payload []byte) error {
	dest := f.resolve(path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &Error{Kind: ErrorKindIO, Op: "put", Path: path, Err: err}
	}
	if err := renameio.WriteFile(dest, payload, 0o644); err != nil {
		return &Error{Kind: ErrorKindIO, Op: "put", Path: path, Err: err}
	}
	return nil
}

func (f *File) PutStream(ctx context.Context, path string, r io.Reader, size int64) error {
	dest := f.resolve(path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &Error{Kind: ErrorKindIO, Op: "put_stream", Path: path, Err: err}
	}
	pf, err := renameio.NewPendingFile(dest)
	if err != nil {
		return &Error{Kind: ErrorKindIO, Op: "put_stream", Path: path, Err: err}
	}
	defer pf.Cleanup()
	if _, err := io.Copy(pf, r); err != nil {
		return &Error{Kind: ErrorKindIO, Op: "put_stream", Path: path, Err: err}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return &Error{Kind: ErrorKindIO, Op: "put_stream", Path: path, Err: err}
	}
	return nil
}

func (f *File) GetAll(ctx context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(f.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: ErrorKindDoesNotExist, Op: "get_all", Path: path, Err: err}
		}
		return nil, &Error{Kind: ErrorKindIO, Op: "get_all", Path: path, Err: err}
	}
	return b, nil
}

func (f *File) GetSlice(ctx context.Context, path string, rng ByteRange) ([]byte, error) {
	fh, err := os.Open(f.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: ErrorKindDoesNotExist, Op: "get_slice", Path: path, Err: err}
		}
		return nil, &Error{Kind: ErrorKindIO, Op: "get_slice", Path: path, Err: err}
	}
	defer fh.Close()

	off := rng.Offset
	if off < 0 {
		info, err := fh.Stat()
		if err != nil {
			return nil, &Error{Kind: ErrorKindIO, Op: "get_slice", Path: path, Err: err}
		}
		off = info.Size() + off
	}
	buf := make([]byte, rng.Len)
	n, err := fh.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, &Error{Kind: ErrorKindIO, Op: "get_slice", Path: path, Err: err}
	}
	return buf[:n], nil
}

func (f *File) CopyToFile(ctx context.Context, path string, destPath string) error {
	b, err := f.GetAll(ctx, path)
	if err != nil {
		return err
	}
	return writeLocalFile(destPath, b)
}

func (f *File) Delete(ctx context.Context, path string) error {
	if err := os.Remove(f.resolve(path)); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: ErrorKindIO, Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (f *File) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(f.resolve(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &Error{Kind: ErrorKindIO, Op: "exists", Path: path, Err: err}
}

func writeLocalFile(destPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return &Error{Kind: ErrorKindIO, Op: "copy_to_file", Path: destPath, Err: err}
	}
	if err := renameio.WriteFile(destPath, data, 0o644); err != nil {
		return &Error{Kind: ErrorKindIO, Op: "copy_to_file", Path: destPath, Err: err}
	}
	return nil
}
