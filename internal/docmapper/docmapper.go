// Package docmapper defines the DocMapper interface the indexing core
// consumes, plus a default JSON mapper implementation.
package docmapper

import (
	"encoding/json"
	"fmt"
	"hash/maphash"
	"strings"

	"github.com/shardwell/shardwell/internal/ids"
)

// DocParsingError reports why a raw document failed to parse.
type DocParsingError struct {
	Reason string
}

func (e *DocParsingError) Error() string { return "docmapper: parse error: " + e.Reason }

// ParsedDoc is the indexable record produced by DocMapper.DocFromJSON.
type ParsedDoc struct {
	Fields map[string]any
}

// DocMapper parses raw documents and computes the attributes the doc
// processor needs: partition key, timestamp, and tag values.
type DocMapper interface {
	DocFromJSON(raw []byte) (ParsedDoc, error)
	PartitionKey(doc ParsedDoc) uint64
	Timestamp(doc ParsedDoc) (int64, bool)
	TagValues(doc ParsedDoc) []string
	Schema() Schema
}

// Schema names the fields a Default mapper is configured against.
type Schema struct {
	TimestampField string
	PartitionFields []string
	TagFields       []string
}

// Default is a generic JSON mapper: it decodes raw documents as a flat JSON
// object, reads the configured timestamp field as a unix-second number,
// hashes the configured partition fields' values for PartitionKey, and reads
// the configured tag fields' values (flattened, stringified) for TagValues.
//
// Partition hashing uses hash/maphash seeded per-process, not a stable hash
// across restarts: partition ids only need to be stable within one running
// pipeline's lifetime (see the checkpoint/doc-mapper design notes), not
// across process restarts.
type Default struct {
	schema Schema
	seed   maphash.Seed
}

// NewDefault constructs a Default mapper for the given field configuration.
func NewDefault(schema Schema) *Default {
	return &Default{schema: schema, seed: maphash.MakeSeed()}
}

func (d *Default) Schema() Schema { return d.schema }

func (d *Default) DocFromJSON(raw []byte) (ParsedDoc, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ParsedDoc{}, &DocParsingError{Reason: err.Error()}
	}
	return ParsedDoc{Fields: fields}, nil
}

func (d *Default) PartitionKey(doc ParsedDoc) uint64 {
	if len(d.schema.PartitionFields) == 0 {
		return uint64(ids.PartitionUnpartitioned)
	}
	var h maphash.Hash
	h.SetSeed(d.seed)
	for _, f := range d.schema.PartitionFields {
		fmt.Fprintf(&h, "%s=%v;", f, doc.Fields[f])
	}
	return h.Sum64()
}

func (d *Default) Timestamp(doc ParsedDoc) (int64, bool) {
	if d.schema.TimestampField == "" {
		return 0, false
	}
	v, ok := doc.Fields[d.schema.TimestampField]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func (d *Default) TagValues(doc ParsedDoc) []string {
	var out []string
	for _, f := range d.schema.TagFields {
		v, ok := doc.Fields[f]
		if !ok {
			continue
		}
		out = append(out, f+":"+stringify(v))
	}
	return out
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", x)
	}
}
