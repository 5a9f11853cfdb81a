package device

import (
	"errors"
	"fmt"
	"io"

	"pbk-go/internal/archive"
	"pbk-go/internal/pbk"
)

// ErrDecryptionRequired is returned when an encrypted step is extracted
// without a decryption context.
var ErrDecryptionRequired = errors.New("step is encrypted: decryption context required")

// archiveStep is a stored step archive.
type archiveStep struct {
	device      *archiveDevice
	name        string
	key         string
	compression archive.Compression
	encrypted   bool
	dec         pbk.DecryptionContext
}

var _ pbk.DifferentialStep = (*archiveStep)(nil)

func (s *archiveStep) Name() string { return s.name }

// Encrypted reports whether the archive is encrypted.
func (s *archiveStep) Encrypted() bool { return s.encrypted }

func (s *archiveStep) ExtractTo(destination string, requested pbk.PathSet) ([]string, error) {
	if s.encrypted && s.dec == nil {
		return nil, fmt.Errorf("%s: %w", s.name, ErrDecryptionRequired)
	}

	rc, err := s.device.store.open(s.key)
	if err != nil {
		return nil, fmt.Errorf("opening step %s: %w", s.name, err)
	}
	defer rc.Close()

	var stream io.Reader = rc
	if s.encrypted {
		stream, err = s.dec.Decrypt(rc)
		if err != nil {
			return nil, fmt.Errorf("decrypting step %s: %w", s.name, err)
		}
	}

	return archive.Extract(stream, s.compression, s.device.opts.Local, destination, requested)
}
