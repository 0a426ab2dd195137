package document

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the transform applied around the encoded stream.
type Compression byte

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// String returns the string representation of the compression
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ParseCompression parses a compression name as used in configuration files
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "store":
		return CompressionNone, nil
	case "gzip", "":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (supported: none, gzip, zstd)", s)
	}
}

// TmpSuffix is appended to a destination path while a safe write is in
// progress.
const TmpSuffix = "_tmp"

// fileMagic opens every document file, followed by one format byte and one
// compression byte. The header itself is never compressed.
var fileMagic = [2]byte{'T', 'S'}

const headerSize = 4

// Header describes how a stored document is encoded.
type Header struct {
	Format      Format
	Compression Compression
}

// Encode writes the header, then the document compressed as requested.
func Encode(w io.Writer, doc *Document, compression Compression) error {
	header := [headerSize]byte{fileMagic[0], fileMagic[1], byte(doc.Format()), byte(compression)}
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	switch compression {
	case CompressionNone:
		return doc.Write(w)
	case CompressionGzip:
		gz := gzip.NewWriter(w)
		if err := doc.Write(gz); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := doc.Write(zw); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	default:
		return fmt.Errorf("unsupported compression %d", byte(compression))
	}
}

// Decode reads a header-prefixed document written by Encode.
func Decode(r io.Reader) (*Document, Header, error) {
	var raw [headerSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, Header{}, truncated(err)
	}
	if raw[0] != fileMagic[0] || raw[1] != fileMagic[1] {
		return nil, Header{}, malformed("bad file magic %q", raw[:2])
	}
	header := Header{Format: Format(raw[2]), Compression: Compression(raw[3])}
	if header.Format != FormatTagged && header.Format != FormatCompact {
		return nil, header, malformed("unknown format byte %d", raw[2])
	}

	src := &sourceReader{r: r}
	var body io.Reader
	switch header.Compression {
	case CompressionNone:
		body = src
	case CompressionGzip:
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, header, src.corrupt(truncated(err))
		}
		defer gz.Close()
		body = gz
	case CompressionZstd:
		zr, err := zstd.NewReader(src)
		if err != nil {
			return nil, header, src.corrupt(err)
		}
		defer zr.Close()
		body = zr
	default:
		return nil, header, malformed("unknown compression byte %d", raw[3])
	}

	doc, err := Read(body, header.Format)
	if err != nil {
		return nil, header, src.corrupt(err)
	}
	// Drain to the end so compression trailers and checksums are verified.
	if header.Compression != CompressionNone {
		if _, err := io.Copy(io.Discard, body); err != nil {
			return nil, header, src.corrupt(truncated(err))
		}
	}
	return doc, header, nil
}

// Marshal encodes a document with its header into memory
func Marshal(doc *Document, compression Compression) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc, compression); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a header-prefixed document from memory
func Unmarshal(data []byte) (*Document, error) {
	doc, _, err := Decode(bytes.NewReader(data))
	return doc, err
}

// WriteFile stores doc at path through SafeWriteFile.
func WriteFile(path string, doc *Document, compression Compression) error {
	return SafeWriteFile(path, func(w io.Writer) error {
		return Encode(w, doc, compression)
	})
}

// ReadFile loads a document stored by WriteFile.
func ReadFile(path string) (*Document, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()

	return Decode(bufio.NewReader(f))
}

// SafeWriteFile writes to path+TmpSuffix, syncs it and renames it over
// path only when fn and every flush succeeded. On failure the temporary
// file is removed and path is left untouched.
func SafeWriteFile(path string, fn func(w io.Writer) error) (err error) {
	tmp := path + TmpSuffix

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if err = fn(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", tmp, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
