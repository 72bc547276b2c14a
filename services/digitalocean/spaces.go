package digitalocean

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket
var ErrObjectNotFound = errors.New("object not found")

// SpacesClient keeps private objects in one DigitalOcean Spaces bucket
type SpacesClient struct {
	s3Client *s3.S3
	bucket   string
	prefix   string
}

// SpacesConfig holds configuration for Spaces client
type SpacesConfig struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Endpoint  string // e.g. https://nyc3.digitaloceanspaces.com
	Prefix    string // folder every key is stored under
}

// NewSpacesClient creates a new Spaces client
func NewSpacesClient(config SpacesConfig) (*SpacesClient, error) {
	switch {
	case config.Bucket == "":
		return nil, fmt.Errorf("spaces bucket is required")
	case config.Endpoint == "":
		return nil, fmt.Errorf("spaces endpoint is required")
	case config.AccessKey == "" || config.SecretKey == "":
		return nil, fmt.Errorf("spaces credentials are required")
	}
	if config.Region == "" {
		// Spaces ignores the region but the SDK insists on one
		config.Region = "us-east-1"
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Endpoint:         aws.String(config.Endpoint),
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Spaces session: %w", err)
	}

	return &SpacesClient{
		s3Client: s3.New(sess),
		bucket:   config.Bucket,
		prefix:   config.Prefix,
	}, nil
}

func (s *SpacesClient) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// UploadBytes stores a private object
func (s *SpacesClient) UploadBytes(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ACL:         aws.String(s3.ObjectCannedACLPrivate),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s to %s: %w", key, s.bucket, err)
	}
	return nil
}

// DownloadBytes reads an object back
func (s *SpacesClient) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	result, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("download %s from %s: %w", key, s.bucket, err)
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}
