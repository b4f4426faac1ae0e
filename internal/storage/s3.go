package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func init() {
	Register("s3", func(ctx context.Context, uri string) (Storage, error) {
		return NewS3(ctx, uri, false)
	})
	Register("s3+localstack", func(ctx context.Context, uri string) (Storage, error) {
		return NewS3(ctx, uri, true)
	})
}

// S3 is an object-storage adapter backed by aws-sdk-go-v2, selected for the
// s3:// and s3+localstack:// schemes. Multipart upload is used once an
// object's size reaches the configured multipart threshold.
type S3 struct {
	uri                string
	bucket             string
	prefix             string
	client             *s3.Client
	uploader           *manager.Uploader
	MultipartThreshold int64
	TargetPartBytes    int64
	MaxNumParts        int
}

// NewS3 constructs an S3 adapter from a uri of the form
// s3://bucket/prefix or s3+localstack://bucket/prefix (localstack endpoint
// taken from the SHARDWELL_S3_ENDPOINT environment variable).
func NewS3(ctx context.Context, uri string, localstack bool) (*S3, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("storage: invalid s3 uri %q", uri)
	}
	_ = scheme
	bucket, prefix, _ := strings.Cut(rest, "/")

	var optFns []func(*awsconfig.LoadOptions) error
	if localstack {
		if endpoint := os.Getenv("SHARDWELL_S3_ENDPOINT"); endpoint != "" {
			optFns = append(optFns, awsconfig.WithBaseEndpoint(endpoint))
		}
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, &Error{Kind: ErrorKindInternal, Op: "open", Path: uri, Err: err}
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = localstack
	})

	return &S3{
		uri:                uri,
		bucket:             bucket,
		prefix:             strings.TrimSuffix(prefix, "/"),
		client:             client,
		uploader:           manager.NewUploader(client),
		MultipartThreshold: 128 << 20,
		TargetPartBytes:    64 << 20,
		MaxNumParts:        10_000,
	}, nil
}

func (s *S3) URI() string { return s.uri }

func (s *S3) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *S3) Put(ctx context.Context, path string, payload []byte) error {
	return s.PutStream(ctx, path, bytes.NewReader(payload), int64(len(payload)))
}

func (s *S3) PutStream(ctx context.Context, path string, r io.Reader, size int64) error {
	key := s.key(path)
	if size >= s.MultipartThreshold {
		partSize := s.TargetPartBytes
		if size/partSize > int64(s.MaxNumParts) {
			partSize = size / int64(s.MaxNumParts)
			if size%int64(s.MaxNumParts) != 0 {
				partSize++
			}
		}
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   r,
		}, func(u *manager.Uploader) {
			u.PartSize = partSize
		})
		if err != nil {
			return &Error{Kind: ErrorKindService, Op: "put_stream", Path: path, Err: err}
		}
		return nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return &Error{Kind: ErrorKindService, Op: "put", Path: path, Err: err}
	}
	return nil
}

func (s *S3) GetAll(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return nil, s.classify("get_all", path, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) GetSlice(ctx context.Context, path string, rng ByteRange) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+rng.Len-1)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, s.classify("get_slice", path, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) CopyToFile(ctx context.Context, path string, destPath string) error {
	b, err := s.GetAll(ctx, path)
	if err != nil {
		return err
	}
	return writeLocalFile(destPath, b)
}

func (s *S3) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return &Error{Kind: ErrorKindService, Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, &Error{Kind: ErrorKindService, Op: "exists", Path: path, Err: err}
	}
	return true, nil
}

func (s *S3) classify(op, path string, err error) error {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return &Error{Kind: ErrorKindDoesNotExist, Op: op, Path: path, Err: err}
	}
	return &Error{Kind: ErrorKindService, Op: op, Path: path, Err: err}
}
