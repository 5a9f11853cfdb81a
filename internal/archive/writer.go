// Package archive implements the physical container of a differential step:
// a tar stream, optionally compressed, holding the changed entries of one
// backup run followed by the run's index file.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"time"
)

const (
	// MemberPrefix is prepended to project paths to form member names.
	MemberPrefix = "files/"

	// IndexMember holds the index file written when the step was finalized.
	IndexMember = "meta/index"

	paxCtime = "PBK.ctime"
	paxMtime = "PBK.mtime"
)

// Writer streams step members into a tar archive.
type Writer struct {
	counter *countingWriter
	comp    Compressor
	tw      *tar.Writer
	members int
	closed  bool
}

// NewWriter starts an archive written to w with compression c.
func NewWriter(w io.Writer, c Compression) (*Writer, error) {
	counter := &countingWriter{w: w}
	comp, err := NewCodecWriter(counter, c)
	if err != nil {
		return nil, err
	}
	return &Writer{
		counter: counter,
		comp:    comp,
		tw:      tar.NewWriter(comp),
	}, nil
}

// Members returns the number of project entries written so far.
func (w *Writer) Members() int { return w.members }

// BytesWritten returns the number of archive bytes emitted to the
// underlying writer.
func (w *Writer) BytesWritten() int64 { return w.counter.n }

func header(name string, typ byte, mode int64, ctime, mtime uint64) *tar.Header {
	return &tar.Header{
		Typeflag: typ,
		Name:     name,
		Mode:     mode,
		ModTime:  time.UnixMilli(int64(mtime)),
		Format:   tar.FormatPAX,
		PAXRecords: map[string]string{
			paxCtime: strconv.FormatInt(int64(ctime), 10),
			paxMtime: strconv.FormatInt(int64(mtime), 10),
		},
	}
}

// AddFile writes a regular file member. content must yield at least size
// bytes; only size bytes are archived.
func (w *Writer) AddFile(path string, ctime, mtime, size uint64, content io.Reader) error {
	hdr := header(MemberPrefix+path, tar.TypeReg, int64(modeOf(content, 0644)), ctime, mtime)
	hdr.Size = int64(size)
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	n, err := io.CopyN(w.tw, content, int64(size))
	if err == io.EOF {
		return fmt.Errorf("file shrank while archiving: got %d of %d bytes", n, size)
	}
	if err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	w.members++
	return nil
}

// AddDirectory writes a directory member.
func (w *Writer) AddDirectory(path string, ctime, mtime uint64) error {
	if err := w.tw.WriteHeader(header(MemberPrefix+path+"/", tar.TypeDir, 0755, ctime, mtime)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	w.members++
	return nil
}

// AddSymlink writes a symbolic link member.
func (w *Writer) AddSymlink(path string, ctime, mtime uint64, target string) error {
	hdr := header(MemberPrefix+path, tar.TypeSymlink, 0777, ctime, mtime)
	hdr.Linkname = target
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	w.members++
	return nil
}

// Close appends the index file member and flushes the tar and compression
// layers. It does not close the underlying writer.
func (w *Writer) Close(indexFile []byte) error {
	if w.closed {
		return fmt.Errorf("archive already closed")
	}
	w.closed = true

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     IndexMember,
		Mode:     0644,
		Size:     int64(len(indexFile)),
		ModTime:  time.Unix(0, 0),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing index header: %w", err)
	}
	if _, err := w.tw.Write(indexFile); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := w.tw.Close(); err != nil {
		return fmt.Errorf("closing tar stream: %w", err)
	}
	if err := w.comp.Close(); err != nil {
		return fmt.Errorf("flushing compressor: %w", err)
	}
	return nil
}

// modeOf returns the permission bits of content when it can report them.
func modeOf(content io.Reader, fallback fs.FileMode) fs.FileMode {
	if st, ok := content.(interface{ Stat() (fs.FileInfo, error) }); ok {
		if info, err := st.Stat(); err == nil {
			return info.Mode().Perm()
		}
	}
	return fallback
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
