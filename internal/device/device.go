// Package device implements the secondary storage locations that hold a
// project's differential steps and latest index.
//
// Every device stores the same object layout below its root:
//
//	<project>/
//	  index                    (index file of the latest completed run)
//	  steps/
//	    <step>.tar.zst[.age]   (step archive, suffix names the codecs)
//	    <step>.index           (index file written by that step)
package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"pbk-go/internal/archive"
	"pbk-go/internal/pbk"
)

const (
	indexName     = "index"
	stepsDir      = "steps"
	stepIndexExt  = ".index"
	encryptionExt = ".age"
)

// Options holds the settings shared by every device type.
type Options struct {
	Name          string
	Location      string
	SecurityLevel pbk.SecurityLevel
	Compression   archive.Compression

	// Encryptor wraps step archives. Nil stores plaintext.
	Encryptor pbk.Encryptor

	Clock pbk.Clock

	// Local is the filesystem restores are written to. Defaults to the
	// OS filesystem.
	Local afero.Fs
}

// archiveDevice implements pbk.Device on top of an objectStore. The
// concrete device types differ only in their store and availability check.
type archiveDevice struct {
	typeName string
	opts     Options
	store    objectStore
}

func newArchiveDevice(typeName string, opts Options, store objectStore) *archiveDevice {
	if opts.Compression == "" {
		opts.Compression = archive.CompressionZstd
	}
	if opts.Clock == nil {
		opts.Clock = pbk.RealClock{}
	}
	if opts.Local == nil {
		opts.Local = afero.NewOsFs()
	}
	return &archiveDevice{typeName: typeName, opts: opts, store: store}
}

func (d *archiveDevice) Name() string                     { return d.opts.Name }
func (d *archiveDevice) TypeName() string                 { return d.typeName }
func (d *archiveDevice) Location() string                 { return d.opts.Location }
func (d *archiveDevice) SecurityLevel() pbk.SecurityLevel { return d.opts.SecurityLevel }

// Encrypted reports whether new steps are encrypted.
func (d *archiveDevice) Encrypted() bool { return d.opts.Encryptor != nil }

func (d *archiveDevice) TestAvailability() error {
	return d.store.check()
}

func (d *archiveDevice) ReadIndex(project string) (io.ReadCloser, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	rc, err := d.store.open(project + "/" + indexName)
	if errors.Is(err, errObjectNotFound) {
		return nil, nil
	}
	return rc, err
}

func (d *archiveDevice) ReadStepIndex(project, step string) (io.ReadCloser, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	rc, err := d.store.open(stepKey(project, step+stepIndexExt))
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, errObjectNotFound) {
		return nil, err
	}

	// Fall back to the copy of the index inside the archive.
	steps, err := d.listSteps(project, nil)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(steps, func(s *archiveStep) bool { return s.name == step })
	if i < 0 {
		return nil, nil
	}
	st := steps[i]
	if st.encrypted {
		return nil, fmt.Errorf("step %s has no index file and its archive is encrypted", step)
	}
	ar, err := d.store.open(st.key)
	if err != nil {
		return nil, err
	}
	defer ar.Close()
	data, err := archive.ReadIndex(ar, st.compression)
	if err != nil {
		return nil, fmt.Errorf("reading index of step %s: %w", step, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (d *archiveDevice) NewArchiveSink(project string) (pbk.ArchiveSink, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	return newArchiveSink(d, project, pbk.StepName(d.opts.Clock.Now()))
}

func (d *archiveDevice) Steps(project string, dec pbk.DecryptionContext) ([]pbk.DifferentialStep, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	steps, err := d.listSteps(project, dec)
	if err != nil {
		return nil, err
	}
	out := make([]pbk.DifferentialStep, len(steps))
	for i, s := range steps {
		out[i] = s
	}
	return out, nil
}

// listSteps returns the project's step archives sorted by name.
func (d *archiveDevice) listSteps(project string, dec pbk.DecryptionContext) ([]*archiveStep, error) {
	names, err := d.store.list(project + "/" + stepsDir)
	if err != nil {
		return nil, fmt.Errorf("listing steps of %s: %w", project, err)
	}

	var steps []*archiveStep
	for _, name := range names {
		step, c, encrypted, ok := parseArchiveName(name)
		if !ok {
			continue
		}
		steps = append(steps, &archiveStep{
			device:      d,
			name:        step,
			key:         stepKey(project, name),
			compression: c,
			encrypted:   encrypted,
			dec:         dec,
		})
	}
	slices.SortFunc(steps, func(a, b *archiveStep) int { return strings.Compare(a.name, b.name) })
	return steps, nil
}

// archiveName returns the object name of a step archive written with the
// device's current settings.
func (d *archiveDevice) archiveName(step string) string {
	name := step + d.opts.Compression.Suffix()
	if d.Encrypted() {
		name += encryptionExt
	}
	return name
}

// parseArchiveName splits a step archive name into the step name and its
// codecs. Names that are not step archives report ok == false.
func parseArchiveName(name string) (step string, c archive.Compression, encrypted bool, ok bool) {
	if base, found := strings.CutSuffix(name, encryptionExt); found {
		name, encrypted = base, true
	}
	for _, comp := range []archive.Compression{archive.CompressionZstd, archive.CompressionGzip, archive.CompressionNone} {
		if base, found := strings.CutSuffix(name, comp.Suffix()); found && base != "" {
			return base, comp, encrypted, true
		}
	}
	return "", "", false, false
}

func stepKey(project, name string) string {
	return project + "/" + stepsDir + "/" + name
}

func validateProject(project string) error {
	if project == "" || project == "." || project == ".." || strings.ContainsAny(project, `/\`) {
		return fmt.Errorf("invalid project name %q", project)
	}
	return nil
}
