package bundle

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestWrite_footerLayout(t *testing.T) {
	dir := t.TempDir()
	seg1 := writeTempFile(t, dir, "seg1", []byte("hello"))
	seg2 := writeTempFile(t, dir, "seg2", []byte("world!!"))

	var buf bytes.Buffer
	hotcache := []byte(`{"split_id":"x"}`)
	footerStart, footerLen, err := Write(&buf, []string{seg1, seg2}, hotcache)
	require.NoError(t, err)

	assert.Equal(t, int64(len("hello")+len("world!!")), footerStart)

	all := buf.Bytes()
	require.Equal(t, int(footerStart+footerLen), len(all))

	trailer := all[len(all)-FooterLen:]
	footer, err := ParseFooter(trailer)
	require.NoError(t, err)
	assert.Equal(t, Version, footer.Version)
	assert.Equal(t, uint64(len(hotcache)), footer.HotcacheLen)

	metaStart := len(all) - FooterLen - int(footer.HotcacheLen) - int(footer.MetadataLen)
	metaBytes := all[metaStart : metaStart+int(footer.MetadataLen)]
	meta, err := ParseMetadata(metaBytes)
	require.NoError(t, err)
	require.Len(t, meta.Files, 2)
	assert.Equal(t, "seg1", meta.Files[0].Name)
	assert.Equal(t, int64(0), meta.Files[0].Offset)
	assert.Equal(t, int64(5), meta.Files[0].Len)
	assert.Equal(t, "seg2", meta.Files[1].Name)
	assert.Equal(t, int64(5), meta.Files[1].Offset)
	assert.Equal(t, int64(7), meta.Files[1].Len)

	hcStart := len(all) - FooterLen - int(footer.HotcacheLen)
	assert.Equal(t, hotcache, all[hcStart:len(all)-FooterLen])
}

func TestWrite_noHotcache(t *testing.T) {
	dir := t.TempDir()
	seg := writeTempFile(t, dir, "seg", []byte("data"))

	var buf bytes.Buffer
	_, _, err := Write(&buf, []string{seg}, nil)
	require.NoError(t, err)

	all := buf.Bytes()
	footer, err := ParseFooter(all[len(all)-FooterLen:])
	require.NoError(t, err)
	assert.Equal(t, uint64(0), footer.HotcacheLen)
}

func TestParseFooter_badMagic(t *testing.T) {
	trailer := make([]byte, FooterLen)
	copy(trailer, "XXXX")
	_, err := ParseFooter(trailer)
	assert.Error(t, err)
}

func TestParseFooter_wrongLength(t *testing.T) {
	_, err := ParseFooter(make([]byte, 10))
	assert.Error(t, err)
}

func TestWrite_missingSegmentFile(t *testing.T) {
	var buf bytes.Buffer
	_, _, err := Write(&buf, []string{"/nonexistent/path/seg"}, nil)
	assert.Error(t, err)
}
