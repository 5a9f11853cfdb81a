package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrInvalidIndexData is matched (via errors.Is) by every decoding failure
// caused by malformed index bytes.
var ErrInvalidIndexData = errors.New("invalid index data")

// FormatError describes where and why index bytes could not be encoded or
// decoded. Offset is the byte offset of the record that failed, or -1 when
// the failure happened while encoding.
type FormatError struct {
	Offset int64
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("invalid index data")
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %q)", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *FormatError) Unwrap() error { return ErrInvalidIndexData }

const (
	countSize  = 8
	headerSize = 24 // ctime, mtime, size
	terminator = '\n'
)

// ValidatePath checks that path can be stored in an index: non-empty,
// relative, valid UTF-8, free of newlines and of ".." segments.
func ValidatePath(path string) error {
	switch {
	case path == "":
		return errors.New("empty path")
	case !utf8.ValidString(path):
		return errors.New("path is not valid UTF-8")
	case strings.ContainsRune(path, terminator):
		return errors.New("path contains a newline")
	case strings.HasPrefix(path, "/"):
		return errors.New("path is absolute")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return errors.New("path contains a parent directory segment")
		}
	}
	return nil
}

// WriteTo serializes the fingerprint section of the index to w:
//
//	[count u64 LE] then per entry, in ascending path order,
//	[ctime u64 LE][mtime u64 LE][size u64 LE][path]['\n']
func (x *Index) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64

	var buf [headerSize]byte
	binary.LittleEndian.PutUint64(buf[:countSize], uint64(x.Len()))
	c, err := bw.Write(buf[:countSize])
	n += int64(c)
	if err != nil {
		return n, fmt.Errorf("writing entry count: %w", err)
	}

	for e := range x.Entries() {
		if err := ValidatePath(e.Path); err != nil {
			return n, &FormatError{Offset: -1, Path: e.Path, Reason: err.Error()}
		}
		binary.LittleEndian.PutUint64(buf[0:8], e.Ctime)
		binary.LittleEndian.PutUint64(buf[8:16], e.Mtime)
		binary.LittleEndian.PutUint64(buf[16:24], e.Size)
		c, err := bw.Write(buf[:])
		n += int64(c)
		if err != nil {
			return n, fmt.Errorf("writing entry %s: %w", e.Path, err)
		}
		c, err = bw.WriteString(e.Path)
		n += int64(c)
		if err != nil {
			return n, fmt.Errorf("writing entry %s: %w", e.Path, err)
		}
		if err := bw.WriteByte(terminator); err != nil {
			return n, fmt.Errorf("writing entry %s: %w", e.Path, err)
		}
		n++
	}

	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flushing index: %w", err)
	}
	return n, nil
}

// MarshalBinary returns the serialized fingerprint section.
func (x *Index) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := x.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDeletions appends the deletion section that follows the fingerprint
// section in an index file: [count u64 LE] then [path]['\n'] per deletion.
func WriteDeletions(w io.Writer, deleted []string) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64

	var buf [countSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(deleted)))
	c, err := bw.Write(buf[:])
	n += int64(c)
	if err != nil {
		return n, fmt.Errorf("writing deletion count: %w", err)
	}
	for _, p := range deleted {
		if err := ValidatePath(p); err != nil {
			return n, &FormatError{Offset: -1, Path: p, Reason: err.Error()}
		}
		c, err := bw.WriteString(p)
		n += int64(c)
		if err != nil {
			return n, fmt.Errorf("writing deletion %s: %w", p, err)
		}
		if err := bw.WriteByte(terminator); err != nil {
			return n, fmt.Errorf("writing deletion %s: %w", p, err)
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flushing deletions: %w", err)
	}
	return n, nil
}

// File is a decoded index file: the fingerprints of a completed run and the
// paths that run recorded as deleted.
type File struct {
	Index   *Index
	Deleted []string
}

// EncodeFile writes a complete index file for idx and deleted to w.
func EncodeFile(w io.Writer, idx *Index, deleted []string) error {
	if _, err := idx.WriteTo(w); err != nil {
		return err
	}
	if _, err := WriteDeletions(w, deleted); err != nil {
		return err
	}
	return nil
}

// Decode reads a fingerprint section from r. Bytes after the last declared
// entry are not inspected, though r may have been read past them.
func Decode(r io.Reader) (*Index, error) {
	d := newDecoder(r)
	return d.readIndex()
}

// Unmarshal decodes a fingerprint section held in data. Unlike Decode,
// trailing bytes are rejected.
func Unmarshal(data []byte) (*Index, error) {
	d := newDecoder(bytes.NewReader(data))
	idx, err := d.readIndex()
	if err != nil {
		return nil, err
	}
	if err := d.expectEOF(); err != nil {
		return nil, err
	}
	return idx, nil
}

// DecodeFile reads a complete index file from r. A stream that ends right
// after the fingerprint section is treated as having no deletion records.
func DecodeFile(r io.Reader) (*File, error) {
	d := newDecoder(r)
	idx, err := d.readIndex()
	if err != nil {
		return nil, err
	}

	deleted, err := d.readDeletions()
	if err != nil {
		return nil, err
	}
	if err := d.expectEOF(); err != nil {
		return nil, err
	}
	return &File{Index: idx, Deleted: deleted}, nil
}

type decoder struct {
	r   *bufio.Reader
	off int64
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: bufio.NewReader(r)}
}

func (d *decoder) fail(at int64, path, format string, args ...any) error {
	return &FormatError{Offset: at, Path: path, Reason: fmt.Sprintf(format, args...)}
}

// readCount reads a u64 count. ok is false when the stream ended cleanly
// before the first byte.
func (d *decoder) readCount(what string) (count uint64, ok bool, err error) {
	var buf [countSize]byte
	at := d.off
	n, err := io.ReadFull(d.r, buf[:])
	d.off += int64(n)
	switch {
	case err == io.EOF:
		return 0, false, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return 0, false, d.fail(at, "", "truncated %s count: got %d of %d bytes", what, n, countSize)
	case err != nil:
		return 0, false, fmt.Errorf("reading %s count: %w", what, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), true, nil
}

// readPath reads bytes up to and excluding the next terminator.
func (d *decoder) readPath(at int64) (string, error) {
	line, err := d.r.ReadBytes(terminator)
	d.off += int64(len(line))
	if err == io.EOF {
		return "", d.fail(at, "", "record is missing its newline terminator")
	}
	if err != nil {
		return "", fmt.Errorf("reading record at offset %d: %w", at, err)
	}
	path := string(line[:len(line)-1])
	if err := ValidatePath(path); err != nil {
		return "", d.fail(at, "", "%v", err)
	}
	return path, nil
}

func (d *decoder) readIndex() (*Index, error) {
	count, ok, err := d.readCount("entry")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, d.fail(0, "", "missing entry count")
	}

	idx := New()
	var header [headerSize]byte
	for i := uint64(0); i < count; i++ {
		at := d.off
		n, err := io.ReadFull(d.r, header[:])
		d.off += int64(n)
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, d.fail(at, "", "entry %d of %d is truncated: got %d of %d header bytes", i+1, count, n, headerSize)
		}
		if err != nil {
			return nil, fmt.Errorf("reading entry at offset %d: %w", at, err)
		}

		path, err := d.readPath(at)
		if err != nil {
			return nil, err
		}
		if idx.Contains(path) {
			return nil, d.fail(at, path, "duplicate path")
		}
		idx.Insert(
			binary.LittleEndian.Uint64(header[0:8]),
			binary.LittleEndian.Uint64(header[8:16]),
			binary.LittleEndian.Uint64(header[16:24]),
			path,
		)
	}
	return idx, nil
}

func (d *decoder) readDeletions() ([]string, error) {
	count, ok, err := d.readCount("deletion")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var deleted []string
	for i := uint64(0); i < count; i++ {
		at := d.off
		if _, err := d.r.Peek(1); err == io.EOF {
			return nil, d.fail(at, "", "expected %d deletion records, found %d", count, i)
		}
		path, err := d.readPath(at)
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, path)
	}
	return deleted, nil
}

func (d *decoder) expectEOF() error {
	if _, err := d.r.Peek(1); err == io.EOF {
		return nil
	} else if err != nil {
		return fmt.Errorf("reading index trailer: %w", err)
	}
	return d.fail(d.off, "", "unexpected trailing bytes")
}
