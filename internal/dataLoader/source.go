package dataloader

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"csvloader/internal/apperrors"
)

const s3Scheme = "s3://"

// SourceOptions carries the settings needed to open remote sources.
type SourceOptions struct {
	AWSRegion    string
	AWSAccessKey string
	AWSSecretKey string
}

// objectGetter is the part of *s3.Client used to stream an object.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// OpenSource opens the CSV input: a local path, or an s3://bucket/key URI
// that is streamed from object storage.
func OpenSource(ctx context.Context, path string, opts SourceOptions) (io.ReadCloser, error) {
	if !strings.HasPrefix(path, s3Scheme) {
		return openFile(path)
	}
	bucket, key, err := parseS3URI(path)
	if err != nil {
		return nil, err
	}
	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}
	return openObject(ctx, client, bucket, key)
}

func openFile(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.ErrFileNotFound, err, "opening "+path)
		}
		return nil, apperrors.Wrap(apperrors.ErrIO, err, "opening "+path)
	}
	return file, nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", apperrors.Newf(apperrors.ErrConfig, "invalid S3 location %q, want s3://bucket/key", uri)
	}
	return bucket, key, nil
}

func newS3Client(ctx context.Context, opts SourceOptions) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.AWSRegion))
	}
	if opts.AWSAccessKey != "" && opts.AWSSecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AWSAccessKey, opts.AWSSecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, err, "loading aws config")
	}
	return s3.NewFromConfig(awsCfg), nil
}

func openObject(ctx context.Context, client objectGetter, bucket, key string) (io.ReadCloser, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		location := s3Scheme + bucket + "/" + key
		var noKey *types.NoSuchKey
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return nil, apperrors.Wrap(apperrors.ErrFileNotFound, err, "opening "+location)
		}
		return nil, apperrors.Wrap(apperrors.ErrIO, err, "opening "+location)
	}
	return out.Body, nil
}
