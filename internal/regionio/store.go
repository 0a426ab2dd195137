// Package regionio moves regions between memory and disk. Store handles
// the files, Pool runs the work off the caller's goroutine and Service
// ties both to the per-region permits, falling back to a Generator when
// no usable file exists.
package regionio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/conneroisu/tessera/internal/document"
	terrors "github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/region"
	"github.com/conneroisu/tessera/internal/world"
)

const (
	// RegionDir holds one file per region below the world directory.
	RegionDir = "regions"
	// CorruptSuffix marks a region file moved aside after a failed decode.
	CorruptSuffix = ".corrupt"
)

var regionFileRE = regexp.MustCompile(`^region_(-?\d+)_(-?\d+)\.dat$`)

// RegionFileName returns the file name of region (x, y).
func RegionFileName(x, y int32) string {
	return fmt.Sprintf("region_%d_%d.dat", x, y)
}

// ParseRegionFileName extracts the coordinates from a region file name.
func ParseRegionFileName(name string) (region.Key, bool) {
	m := regionFileRE.FindStringSubmatch(name)
	if m == nil {
		return region.Key{}, false
	}
	x, errX := strconv.ParseInt(m[1], 10, 32)
	y, errY := strconv.ParseInt(m[2], 10, 32)
	if errX != nil || errY != nil {
		return region.Key{}, false
	}
	return region.Key{X: int32(x), Y: int32(y)}, true
}

// Store reads and writes the files of one world directory.
type Store struct {
	dir  string
	info *world.Info
}

// OpenStore opens the world at dir, creating the directory layout and a
// fresh world.info from defaults when none exists.
func OpenStore(dir string, defaults *world.Info) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, RegionDir), 0o755); err != nil {
		return nil, terrors.NewIOError(terrors.ErrCodeWriteFailed, "cannot create world directory", err).WithPath(dir)
	}

	infoPath := filepath.Join(dir, world.InfoFile)
	info, err := world.LoadInfo(infoPath)
	switch {
	case errors.Is(err, world.ErrNoWorld):
		if defaults == nil {
			return nil, terrors.NewIOError(terrors.ErrCodeReadFailed, "world info missing", err).WithPath(infoPath)
		}
		info = defaults
		if err := world.SaveInfo(infoPath, info); err != nil {
			return nil, terrors.NewIOError(terrors.ErrCodeWriteFailed, "cannot write world info", err).WithPath(infoPath)
		}
	case err != nil:
		return nil, terrors.Wrap(err, terrors.ErrorTypeDecode, terrors.ErrCodeCorruptRegion, "unreadable world info").WithPath(infoPath)
	}

	return &Store{dir: dir, info: info}, nil
}

// Dir returns the world directory.
func (s *Store) Dir() string { return s.dir }

// RegionDir returns the directory holding region files.
func (s *Store) RegionDir() string { return filepath.Join(s.dir, RegionDir) }

// Info returns the world info the store was opened with.
func (s *Store) Info() *world.Info { return s.info }

// Path returns the file of region (x, y).
func (s *Store) Path(x, y int32) string {
	return filepath.Join(s.dir, RegionDir, RegionFileName(x, y))
}

// Exists reports whether region (x, y) has a file.
func (s *Store) Exists(x, y int32) bool {
	_, err := os.Stat(s.Path(x, y))
	return err == nil
}

// Load reads the file of r into a snapshot and installs it only when the
// whole file decoded. found is false when no file exists; a failed load
// leaves r untouched. The caller must hold the load permit.
func (s *Store) Load(r *region.Region) (found bool, err error) {
	path := s.Path(r.X(), r.Y())
	doc, _, err := document.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if errors.Is(err, document.ErrMalformed) {
			return true, terrors.WrapDecode(err, "malformed region file", r.X(), r.Y()).WithOp("load").WithPath(path)
		}
		return true, terrors.WrapIO(err, terrors.ErrCodeReadFailed, "cannot read region file", r.X(), r.Y()).WithOp("load").WithPath(path)
	}

	snap, err := region.Decode(doc.Root(), s.versionOf(doc.Root()))
	if err != nil {
		return true, terrors.WrapDecode(err, "invalid region document", r.X(), r.Y()).WithOp("load").WithPath(path)
	}

	r.Install(snap)
	return true, nil
}

// versionOf returns the layout version of a region document. Files
// written before regions carried their own version use the world's.
func (s *Store) versionOf(root *document.Compound) int {
	if v, ok := root.OptInt("version"); ok {
		return int(v)
	}
	return s.info.Version
}

// Save encodes r and writes it through the safe-write protocol. On
// success the captured revision is recorded as saved. An ungenerated
// region only carries queued writes; those are merged into the file on
// disk instead of replacing it, and leave the in-memory queues once
// written so a later load or merge does not see them twice. The caller
// must hold the save permit.
func (s *Store) Save(r *region.Region) error {
	path := s.Path(r.X(), r.Y())
	root, rev := region.Encode(r)
	stub := !r.IsGenerated()
	var structures, actions int
	if stub {
		structures = root.GetList("queuedStructures").Len()
		actions = root.GetList("queuedActions").Len()
		merged, err := s.mergeQueued(root, r.X(), r.Y(), path)
		if err != nil {
			return err
		}
		if merged != nil {
			root = merged
		}
	}
	root.PutInt("version", region.CurrentVersion)

	doc := document.Wrap(s.info.Format, root)
	if err := document.WriteFile(path, doc, s.info.Compression); err != nil {
		return terrors.WrapIO(err, terrors.ErrCodeWriteFailed, "cannot write region file", r.X(), r.Y()).WithOp("save").WithPath(path)
	}
	if stub {
		r.TrimQueued(structures, actions)
	}
	r.MarkSaved(rev)
	return nil
}

// mergeQueued folds the queues encoded in stub into the region stored at
// path and returns the merged document, or nil when there is nothing to
// merge with. An unreadable file is quarantined first.
func (s *Store) mergeQueued(stub *document.Compound, x, y int32, path string) (*document.Compound, error) {
	doc, _, err := document.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case errors.Is(err, document.ErrMalformed):
		_, qerr := s.Quarantine(x, y)
		return nil, qerr
	case err != nil:
		return nil, terrors.WrapIO(err, terrors.ErrCodeReadFailed, "cannot read region file", x, y).WithOp("save").WithPath(path)
	}

	snap, err := region.Decode(doc.Root(), s.versionOf(doc.Root()))
	if err != nil {
		_, qerr := s.Quarantine(x, y)
		return nil, qerr
	}
	queued, err := region.Decode(stub, region.CurrentVersion)
	if err != nil {
		return nil, terrors.NewInternalError(terrors.ErrCodeInternalError, "cannot re-read queued writes", err).WithRegion(x, y).WithOp("save")
	}

	base := region.New(x, y)
	base.Install(snap)
	for _, st := range queued.Structures {
		base.AddStructure(st)
	}
	for _, a := range queued.Actions {
		base.AddAction(a)
	}
	base.ApplyActions()

	root, _ := region.Encode(base)
	return root, nil
}

// Quarantine moves the file of (x, y) aside so a regenerated region does
// not overwrite the evidence. It returns the new path.
func (s *Store) Quarantine(x, y int32) (string, error) {
	path := s.Path(x, y)
	dest := path + CorruptSuffix
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = fmt.Sprintf("%s%s.%d", path, CorruptSuffix, i)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", terrors.WrapIO(err, terrors.ErrCodeWriteFailed, "cannot quarantine region file", x, y).WithPath(path)
	}
	return dest, nil
}

// List returns the coordinates of every region file, sorted.
func (s *Store) List() ([]region.Key, error) {
	entries, err := os.ReadDir(s.RegionDir())
	if err != nil {
		return nil, err
	}
	var keys []region.Key
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if k, ok := ParseRegionFileName(e.Name()); ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})
	return keys, nil
}
