package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"

	"pbk-go/internal/pbk"
)

// S3API is the subset of the S3 client used by S3Device.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Settings locates a device inside a bucket and configures the client.
type S3Settings struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint selects an S3-compatible service. Path-style addressing is
	// used when set.
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string
}

// S3Device stores steps as objects in an S3 bucket. Step archives are
// spooled to a local temp file and uploaded when the step is finalized.
type S3Device struct {
	*archiveDevice
	bucket string
	prefix string
}

// NewS3Client builds an S3 client from the default AWS configuration
// chain, overridden by settings.
func NewS3Client(ctx context.Context, settings S3Settings) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if settings.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(settings.Region))
	}
	if settings.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKeyID, settings.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Device creates a device stored in bucket below prefix. spool holds
// step archives until upload and defaults to the OS filesystem.
func NewS3Device(client S3API, bucket, prefix string, spool afero.Fs, opts Options) *S3Device {
	if spool == nil {
		spool = afero.NewOsFs()
	}
	prefix = strings.Trim(prefix, "/")
	store := &s3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		spool:    spool,
	}
	return &S3Device{
		archiveDevice: newArchiveDevice("s3", opts, store),
		bucket:        bucket,
		prefix:        prefix,
	}
}

// Bucket returns the bucket holding the device.
func (d *S3Device) Bucket() string { return d.bucket }

var _ pbk.Device = (*S3Device)(nil)

type s3Store struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	spool    afero.Fs
}

func (s *s3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *s3Store) create(key string) (pendingObject, error) {
	f, err := afero.TempFile(s.spool, os.TempDir(), "pbk-spool-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	return &s3Object{store: s, key: key, f: f}, nil
}

func (s *s3Store) put(key string, data []byte) error {
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

func (s *s3Store) open(key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", errObjectNotFound, key)
		}
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *s3Store) list(dir string) ([]string, error) {
	prefix := s.objectKey(dir) + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *s3Store) remove(key string) error {
	_, err := s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	return err
}

func (s *s3Store) check() error {
	_, err := s.client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

// s3Object spools an object to a local file until commit uploads it.
type s3Object struct {
	store *s3Store
	key   string
	f     afero.File
	done  bool
}

func (o *s3Object) Write(p []byte) (int, error) { return o.f.Write(p) }

func (o *s3Object) commit() error {
	if o.done {
		return fmt.Errorf("object %s already finished", o.key)
	}
	o.done = true
	defer o.cleanup()

	if _, err := o.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding spool file: %w", err)
	}
	_, err := o.store.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(o.store.bucket),
		Key:    aws.String(o.store.objectKey(o.key)),
		Body:   o.f,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", o.key, err)
	}
	return nil
}

func (o *s3Object) discard() error {
	if o.done {
		return nil
	}
	o.done = true
	return o.cleanup()
}

func (o *s3Object) cleanup() error {
	o.f.Close()
	return o.store.spool.Remove(o.f.Name())
}
