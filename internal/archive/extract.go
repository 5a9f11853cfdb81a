package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"pbk-go/internal/index"
)

// ErrNoIndex is returned by ReadIndex when an archive has no index member.
var ErrNoIndex = errors.New("archive has no index member")

// Extract streams the archive in r once and writes the members named in
// requested under destination on fsys. Members not requested are skipped.
// It returns the extracted project paths in archive order.
func Extract(r io.Reader, c Compression, fsys afero.Fs, destination string, requested map[string]struct{}) ([]string, error) {
	dec, err := NewCodecReader(r, c)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	type dirTime struct {
		path  string
		mtime time.Time
	}
	var (
		extracted []string
		dirTimes  []dirTime
	)

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, fmt.Errorf("reading archive: %w", err)
		}

		rel, ok := memberPath(hdr.Name)
		if !ok {
			continue
		}
		if _, want := requested[rel]; !want {
			continue
		}
		if err := index.ValidatePath(rel); err != nil {
			return extracted, fmt.Errorf("unsafe member %q: %w", hdr.Name, err)
		}
		target := filepath.Join(destination, filepath.FromSlash(rel))
		mtime := memberMtime(hdr)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAll(target, hdr.FileInfo().Mode().Perm()|0700); err != nil {
				return extracted, fmt.Errorf("creating directory %s: %w", rel, err)
			}
			// Set after the whole stream: members extracted later in this
			// archive write into the directory. Later archives are not covered.
			dirTimes = append(dirTimes, dirTime{target, mtime})
		case tar.TypeReg:
			if err := writeFile(fsys, target, hdr, tr); err != nil {
				return extracted, fmt.Errorf("extracting %s: %w", rel, err)
			}
			if err := fsys.Chtimes(target, mtime, mtime); err != nil {
				return extracted, fmt.Errorf("setting times of %s: %w", rel, err)
			}
		case tar.TypeSymlink:
			if err := writeSymlink(fsys, target, hdr.Linkname); err != nil {
				return extracted, fmt.Errorf("extracting symlink %s: %w", rel, err)
			}
		default:
			return extracted, fmt.Errorf("unsupported member type %q for %s", hdr.Typeflag, rel)
		}
		extracted = append(extracted, rel)
	}

	for _, d := range dirTimes {
		if err := fsys.Chtimes(d.path, d.mtime, d.mtime); err != nil {
			return extracted, fmt.Errorf("setting times of %s: %w", d.path, err)
		}
	}
	return extracted, nil
}

// ReadIndex returns the contents of the archive's index member.
func ReadIndex(r io.Reader, c Compression) ([]byte, error) {
	dec, err := NewCodecReader(r, c)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, ErrNoIndex
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Name == IndexMember {
			return io.ReadAll(tr)
		}
	}
}

func memberPath(name string) (string, bool) {
	if !strings.HasPrefix(name, MemberPrefix) {
		return "", false
	}
	rel := strings.TrimSuffix(strings.TrimPrefix(name, MemberPrefix), "/")
	return rel, rel != ""
}

func memberMtime(hdr *tar.Header) time.Time {
	if v, ok := hdr.PAXRecords[paxMtime]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return hdr.ModTime
}

func writeFile(fsys afero.Fs, target string, hdr *tar.Header, r io.Reader) error {
	if err := fsys.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	f, err := fsys.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeSymlink(fsys afero.Fs, target, linkname string) error {
	linker, ok := fsys.(afero.Linker)
	if !ok {
		return errors.New("filesystem does not support symlinks")
	}
	if err := fsys.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if err := fsys.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return linker.SymlinkIfPossible(linkname, target)
}
