package builder_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spirali/orco/internal/builder"
	"github.com/spirali/orco/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachTextRejectsBangPrefixedName(t *testing.T) {
	cctx := builder.NewComputeContext(t.TempDir())
	err := cctx.AttachText("!reserved", "x")
	assert.Error(t, err)
}

func TestAttachTextRecordsAttachment(t *testing.T) {
	cctx := builder.NewComputeContext(t.TempDir())
	require.NoError(t, cctx.AttachText("note", "hello"))

	atts := cctx.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "note", atts[0].Name)
	assert.Equal(t, "text/plain", atts[0].Mime)
	assert.Equal(t, "hello", string(atts[0].Data))
}

func TestAttachFileReadsFromWorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("data"), 0o644))

	cctx := builder.NewComputeContext(dir)
	require.NoError(t, cctx.AttachFile("out.txt", "", "", ""))

	atts := cctx.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "data", string(atts[0].Data))
	assert.Equal(t, "text/plain", atts[0].Mime)
}

func TestAttachDirectoryProducesTar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("2"), 0o644))

	cctx := builder.NewComputeContext(t.TempDir())
	require.NoError(t, cctx.AttachDirectory(dir, "bundle", ""))

	atts := cctx.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "application/tar", atts[0].Mime)
	assert.NotEmpty(t, atts[0].Data)
}

func TestAttachObjectUsesGobEncoding(t *testing.T) {
	cctx := builder.NewComputeContext(t.TempDir())
	require.NoError(t, cctx.AttachObject("obj", value.Int(42), ""))

	atts := cctx.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, value.MimeGob, atts[0].Mime)

	decoded, err := value.DecodeGob(atts[0].Data)
	require.NoError(t, err)
	n, ok := decoded.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), n)
}
