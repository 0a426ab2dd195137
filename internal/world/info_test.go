package world

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tessera/internal/document"
	"github.com/conneroisu/tessera/internal/region"
)

func TestInfoRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), InfoFile)
	info := NewInfo("alpha", -99, document.FormatCompact, document.CompressionZstd)
	require.NotEqual(t, uuid.Nil, info.ID)

	require.NoError(t, SaveInfo(path, info))
	loaded, err := LoadInfo(path)
	require.NoError(t, err)
	assert.Equal(t, info, loaded)
}

func TestLegacyInfo(t *testing.T) {
	c := document.NewCompound()
	c.PutString("name", "old")
	header := document.Header{Format: document.FormatTagged, Compression: document.CompressionGzip}

	info, err := DecodeInfo(c, header)
	require.NoError(t, err)
	assert.Equal(t, region.VersionLegacy, info.Version)
	assert.Equal(t, uuid.Nil, info.ID)
	assert.Equal(t, document.FormatTagged, info.Format)
	assert.Equal(t, document.CompressionGzip, info.Compression)
}

func TestDecodeInfoErrors(t *testing.T) {
	header := document.Header{}

	c := document.NewCompound()
	c.PutInt("version", 42)
	_, err := DecodeInfo(c, header)
	assert.Error(t, err)

	c = document.NewCompound()
	c.PutString("id", "not-a-uuid")
	_, err = DecodeInfo(c, header)
	assert.Error(t, err)

	_, err = LoadInfo(filepath.Join(t.TempDir(), InfoFile))
	assert.ErrorIs(t, err, ErrNoWorld)
}
