// Package ioctl provides scoped temp directories and the I/O control token
// every disk- and network-facing stage routes its bytes through.
package ioctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/shardwell/shardwell/internal/pipeline"
)

// Root is a per-pipeline scratch root. Every stage that writes to disk
// obtains a ScopedDir from it.
type Root struct {
	base string
}

// NewRoot creates base if absent and returns a scratch root that uses base
// itself as its directory; it adds no per-pipeline subdirectory.
func NewRoot(base string) (*Root, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("ioctl: create root %q: %w", base, err)
	}
	return &Root{base: base}, nil
}

// ScopedDir is a single-owner scratch directory: deleted on Close along
// every exit path, including abort. It moves downstream with its payload by
// the owning stage handing off the *ScopedDir itself to the next stage.
type ScopedDir struct {
	path   string
	closed atomic.Bool
}

// New allocates a fresh scoped temp dir named for a purpose (e.g. a split
// id), unique under the root.
func (r *Root) New(name string) (*ScopedDir, error) {
	dir, err := os.MkdirTemp(r.base, name+"-*")
	if err != nil {
		return nil, fmt.Errorf("ioctl: create scoped dir: %w", err)
	}
	return &ScopedDir{path: dir}, nil
}

// Path returns the directory's filesystem path.
func (d *ScopedDir) Path() string { return d.path }

// Join resolves a name within the scoped dir.
func (d *ScopedDir) Join(name string) string { return filepath.Join(d.path, name) }

// Close removes the directory and everything under it. Idempotent.
func (d *ScopedDir) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return os.RemoveAll(d.path)
}

// Controller accounts bytes transferred through I/O operations, polls the
// abort signal on every chunk, and pumps a progress beacon. The uploader
// routes bundle reads through it; the merge downloader's copies do not.
type Controller struct {
	abort     *pipeline.AbortSignal
	beacon    *pipeline.Beacon
	bytesSeen atomic.Int64
	chunkSize int
}

// NewController constructs an I/O controller sharing abort with its
// pipeline and advancing beacon on every chunk processed.
func NewController(abort *pipeline.AbortSignal, beacon *pipeline.Beacon) *Controller {
	return &Controller{abort: abort, beacon: beacon, chunkSize: 1 << 20} // ~1 MiB, per the suspension-point design
}

// BytesSeen returns the total bytes accounted so far.
func (c *Controller) BytesSeen() int64 { return c.bytesSeen.Load() }

// CopyContext copies from r to w in chunkSize pieces, polling ctx and the
// abort signal between each and advancing the beacon, so long transfers
// don't starve the heartbeat or block cancellation.
func (c *Controller) CopyContext(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, c.chunkSize)
	var total int64
	for {
		if c.abort.Aborted() {
			return total, pipeline.ErrAborted
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += int64(wn)
			c.bytesSeen.Add(int64(wn))
			if c.beacon != nil {
				c.beacon.Advance()
			}
			if werr != nil {
				return total, werr
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
