// Package world describes a saved world: its identity, seed and the
// region layout version its files were written with.
package world

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/tessera/internal/document"
	"github.com/conneroisu/tessera/internal/region"
)

// InfoFile is the world info document inside a world directory.
const InfoFile = "world.info"

// Info is the content of world.info.
type Info struct {
	// Version selects the region readers for files that do not carry
	// their own version.
	Version     int
	ID          uuid.UUID
	Name        string
	Seed        int64
	Created     time.Time
	Format      document.Format
	Compression document.Compression
}

// NewInfo describes a brand new world in the current layout.
func NewInfo(name string, seed int64, format document.Format, compression document.Compression) *Info {
	return &Info{
		Version:     region.CurrentVersion,
		ID:          uuid.New(),
		Name:        name,
		Seed:        seed,
		Created:     time.Now().UTC().Truncate(time.Second),
		Format:      format,
		Compression: compression,
	}
}

// Encode writes the info into a compound.
func (i *Info) Encode() *document.Compound {
	c := document.NewCompound()
	c.PutInt("version", int32(i.Version))
	c.PutString("id", i.ID.String())
	c.PutString("name", i.Name)
	c.PutLong("seed", i.Seed)
	c.PutLong("created", i.Created.Unix())
	c.PutString("format", i.Format.String())
	c.PutString("compression", i.Compression.String())
	return c
}

// DecodeInfo reads world info. A missing version means the legacy layout;
// missing encoding fields fall back to the encoding of the info file itself.
func DecodeInfo(c *document.Compound, header document.Header) (*Info, error) {
	info := &Info{
		Version:     region.VersionLegacy,
		Name:        c.GetString("name"),
		Seed:        c.GetLong("seed"),
		Format:      header.Format,
		Compression: header.Compression,
	}
	if v, ok := c.OptInt("version"); ok {
		info.Version = int(v)
	}
	if !region.SupportedVersion(info.Version) {
		return nil, fmt.Errorf("world version %d is not supported", info.Version)
	}

	if s, ok := c.OptString("id"); ok {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("world id: %w", err)
		}
		info.ID = id
	}
	if ts, ok := c.OptLong("created"); ok {
		info.Created = time.Unix(ts, 0).UTC()
	}
	if s, ok := c.OptString("format"); ok {
		f, err := document.ParseFormat(s)
		if err != nil {
			return nil, err
		}
		info.Format = f
	}
	if s, ok := c.OptString("compression"); ok {
		comp, err := document.ParseCompression(s)
		if err != nil {
			return nil, err
		}
		info.Compression = comp
	}
	return info, nil
}

// ErrNoWorld is returned by LoadInfo when the file does not exist.
var ErrNoWorld = errors.New("no world info")

// LoadInfo reads world.info from path.
func LoadInfo(path string) (*Info, error) {
	doc, header, err := document.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoWorld
		}
		return nil, err
	}
	return DecodeInfo(doc.Root(), header)
}

// SaveInfo writes world.info through the safe-write protocol.
func SaveInfo(path string, info *Info) error {
	return document.WriteFile(path, document.Wrap(info.Format, info.Encode()), info.Compression)
}
