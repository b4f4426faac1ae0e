package metastore

import (
	"fmt"
	"strings"
)

// Open dispatches a metastore URI ("memory://" or "bolt:///path/to/file")
// to the matching backend, mirroring storage.Open's scheme dispatch.
func Open(uri string) (Metastore, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("metastore: uri %q has no scheme", uri)
	}
	switch scheme {
	case "memory":
		return NewMemory(), nil
	case "bolt":
		return OpenBolt(rest)
	default:
		return nil, fmt.Errorf("metastore: unsupported scheme %q", scheme)
	}
}
