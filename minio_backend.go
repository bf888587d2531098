package canarystore

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const minioDefaultRegion = "us-east-1"

// MinIOConfig addresses an S3-compatible server. Endpoint may be a bare
// host:port or a full URL; a bare host gets http or https from UseSSL.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string
}

func (c MinIOConfig) baseURL() string {
	if strings.Contains(c.Endpoint, "://") {
		return strings.TrimRight(c.Endpoint, "/")
	}
	if c.UseSSL {
		return "https://" + c.Endpoint
	}
	return "http://" + c.Endpoint
}

// NewMinIOBackend returns an S3Backend speaking path-style requests to a
// MinIO (or other S3-compatible) endpoint with static credentials.
func NewMinIOBackend(cfg MinIOConfig) (*S3Backend, error) {
	for field, value := range map[string]string{"endpoint": cfg.Endpoint, "bucket": cfg.Bucket} {
		if value == "" {
			return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  field,
				"reason": "required for a MinIO account",
			})
		}
	}

	region := cfg.Region
	if region == "" {
		region = minioDefaultRegion
	}

	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(cfg.baseURL()),
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: true,
	})
	return NewS3Backend(client, cfg.Bucket, region), nil
}
