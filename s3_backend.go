package canarystore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// checksumMetadataKey is the user metadata entry carrying Checksum(data)
const checksumMetadataKey = "canary-checksum"

// S3Backend implements Backend using AWS S3 (or S3-compatible storage)
type S3Backend struct {
	client *s3.Client
	bucket string
	region string
}

// S3Config describes how to build an S3 client for one account
type S3Config struct {
	Bucket      string
	Region      string
	Endpoint    string // Custom endpoint for S3-compatible services
	PathStyle   bool
	ProfileName string
	Credentials *ExplicitCredentials // nil means the default provider chain
}

// NewS3Backend creates a new S3 backend around an existing client
func NewS3Backend(client *s3.Client, bucket, region string) *S3Backend {
	return &S3Backend{
		client: client,
		bucket: bucket,
		region: region,
	}
}

// NewS3BackendFromConfig loads AWS configuration and builds the backend
func NewS3BackendFromConfig(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.ProfileName != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.ProfileName))
	}
	if cfg.Credentials != nil && cfg.Credentials.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Credentials.AccessKey, cfg.Credentials.SecretKey, cfg.Credentials.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3Backend(client, cfg.Bucket, awsCfg.Region), nil
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error(err)
	}
	defer func() { _ = result.Body.Close() }() //nolint:errcheck // Deferred close

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, err
	}
	if err := verifyChecksum(key, data, result.Metadata[checksumMetadataKey]); err != nil {
		return nil, err
	}
	return data, nil
}

// Put stores data with its checksum in user metadata and a Content-MD5 header,
// so S3 itself rejects a payload corrupted in transit.
func (b *S3Backend) Put(ctx context.Context, key string, data []byte, checksum string) error {
	if err := checkPut(key, data, checksum); err != nil {
		return err
	}
	sum := md5.Sum(data)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum[:])),
		Metadata:      map[string]string{checksumMetadataKey: checksum},
	})
	return s3Error(err)
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	return s3Error(err)
}

func (b *S3Backend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, s3Error(err)
	}
	return ObjectInfo{
		Key:          key,
		LastModified: aws.ToTime(head.LastModified),
		Size:         aws.ToInt64(head.ContentLength),
	}, nil
}

// ListPaginated follows continuation tokens until the listing is exhausted
func (b *S3Backend) ListPaginated(ctx context.Context, prefix string, handler func(objects []ObjectInfo) error) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return s3Error(err)
		}

		objects := make([]ObjectInfo, 0, len(output.Contents))
		for _, obj := range output.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				LastModified: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
			})
		}

		if err := handler(objects); err != nil {
			return err
		}
	}

	return nil
}

// EnsureContainer creates the bucket when HeadBucket reports it missing
func (b *S3Backend) EnsureContainer(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	if !errors.Is(s3Error(err), ErrNotFound) {
		return s3Error(err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	if b.region != "" && b.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(b.region),
		}
	}
	_, err = b.client.CreateBucket(ctx, input)
	var owned *s3types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	return s3Error(err)
}

func (b *S3Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	return s3Error(err)
}

func (b *S3Backend) Close() error {
	return nil
}

// s3Error maps SDK errors onto the package sentinels, keeping the cause
func s3Error(err error) error {
	if err == nil {
		return nil
	}
	var noKey *s3types.NoSuchKey
	var noBucket *s3types.NoSuchBucket
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return ErrNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return err
}
