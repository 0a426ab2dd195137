package document

import (
	"errors"
	"fmt"
	"io"
)

// ErrMalformed wraps every structural decode failure: bad tag bytes,
// truncated streams, impossible lengths.
var ErrMalformed = errors.New("document: malformed data")

// Format selects the concrete encoding of a document.
type Format byte

const (
	FormatTagged Format = iota + 1
	FormatCompact
)

// String returns the string representation of the format
func (f Format) String() string {
	switch f {
	case FormatTagged:
		return "tagged"
	case FormatCompact:
		return "compact"
	default:
		return fmt.Sprintf("format(%d)", byte(f))
	}
}

// ParseFormat parses a format name as used in configuration files
func ParseFormat(s string) (Format, error) {
	switch s {
	case "tagged", "":
		return FormatTagged, nil
	case "compact":
		return FormatCompact, nil
	default:
		return 0, fmt.Errorf("unknown document format %q (supported: tagged, compact)", s)
	}
}

// maxDepth bounds nesting so corrupt input cannot exhaust the stack.
const maxDepth = 512

// maxElements bounds array and list lengths read from a stream.
const maxElements = 1 << 26

type codec interface {
	encode(w io.Writer, root *Compound) error
	decode(r io.Reader) (*Compound, error)
}

func codecFor(f Format) (codec, error) {
	switch f {
	case FormatTagged:
		return taggedCodec{}, nil
	case FormatCompact:
		return compactCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported document format %d", byte(f))
	}
}

// Document is a root compound bound to an encoding.
type Document struct {
	format Format
	root   *Compound
}

// Create returns an empty document in the given format
func Create(format Format) *Document {
	return &Document{format: format, root: NewCompound()}
}

// Wrap binds an existing compound to a format
func Wrap(format Format, root *Compound) *Document {
	if root == nil {
		root = NewCompound()
	}
	return &Document{format: format, root: root}
}

// Format returns the document's native encoding
func (d *Document) Format() Format { return d.format }

// Root returns the root compound
func (d *Document) Root() *Compound { return d.root }

// Convert returns a deep copy of the document in another encoding. The
// receiver is returned unchanged when it already uses target.
func (d *Document) Convert(target Format) *Document {
	if d.format == target {
		return d
	}
	return &Document{format: target, root: d.root.Clone()}
}

// Equal reports structural equality of the trees, ignoring the format.
func (d *Document) Equal(other *Document) bool {
	return d.root.Equal(other.root)
}

// Write serializes the document in its native encoding.
func (d *Document) Write(w io.Writer) error {
	c, err := codecFor(d.format)
	if err != nil {
		return err
	}
	return c.encode(w, d.root)
}

// Read deserializes a document in the given encoding. Nothing is returned
// unless the whole stream decoded successfully.
func Read(r io.Reader, format Format) (*Document, error) {
	c, err := codecFor(format)
	if err != nil {
		return nil, err
	}
	root, err := c.decode(r)
	if err != nil {
		return nil, err
	}
	return &Document{format: format, root: root}, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// truncated converts EOF conditions into ErrMalformed.
func truncated(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated stream", ErrMalformed)
	}
	return err
}

// sourceReader remembers the first read error of the stream under a
// decoder so corrupt data can be told apart from a failing source.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}

// corrupt wraps a decode failure in ErrMalformed unless the source itself
// failed with something other than running out of data.
func (s *sourceReader) corrupt(err error) error {
	if err == nil || errors.Is(err, ErrMalformed) {
		return err
	}
	if s.err != nil && !errors.Is(s.err, io.EOF) && !errors.Is(s.err, io.ErrUnexpectedEOF) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
