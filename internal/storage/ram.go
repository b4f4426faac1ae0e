package storage

import (
	"context"
	"io"
	"sync"
)

func init() {
	Register("ram", func(ctx context.Context, uri string) (Storage, error) {
		return NewRAM(uri), nil
	})
}

// RAM is an in-memory Storage, used by tests and the ram:// scheme.
type RAM struct {
	uri string
	mu  sync.RWMutex
	obj map[string][]byte
}

// NewRAM constructs an empty in-memory store rooted at uri.
func NewRAM(uri string) *RAM {
	return &RAM{uri: uri, obj: make(map[string][]byte)}
}

func (r *RAM) URI() string { return r.uri }

func (r *RAM) Put(ctx context.Context, path string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.obj[path] = cp
	return nil
}

func (r *RAM) PutStream(ctx context.Context, path string, rd io.Reader, size int64) error {
	b, err := io.ReadAll(rd)
	if err != nil {
		return &Error{Kind: ErrorKindIO, Op: "put_stream", Path: path, Err: err}
	}
	return r.Put(ctx, path, b)
}

func (r *RAM) GetAll(ctx context.Context, path string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.obj[path]
	if !ok {
		return nil, &Error{Kind: ErrorKindDoesNotExist, Op: "get_all", Path: path, Err: io.ErrUnexpectedEOF}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (r *RAM) GetSlice(ctx context.Context, path string, rng ByteRange) ([]byte, error) {
	b, err := r.GetAll(ctx, path)
	if err != nil {
		return nil, err
	}
	start := rng.Offset
	end := rng.Offset + rng.Len
	if start < 0 {
		start = int64(len(b)) + start
	}
	if end <= 0 || end > int64(len(b)) {
		end = int64(len(b))
	}
	if start < 0 || start > int64(len(b)) || start > end {
		return nil, &Error{Kind: ErrorKindIO, Op: "get_slice", Path: path, Err: io.ErrUnexpectedEOF}
	}
	return b[start:end], nil
}

func (r *RAM) CopyToFile(ctx context.Context, path string, destPath string) error {
	b, err := r.GetAll(ctx, path)
	if err != nil {
		return err
	}
	return writeLocalFile(destPath, b)
}

func (r *RAM) Delete(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.obj, path)
	return nil
}

func (r *RAM) Exists(ctx context.Context, path string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.obj[path]
	return ok, nil
}
