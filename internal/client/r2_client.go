package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/reelcraft/mediapipe/internal/config"
)

// BackendR2 is the storage backend name of R2Client.
const BackendR2 = "r2"

// R2Client stores blobs in Cloudflare R2 (or any S3-compatible endpoint)
type R2Client struct {
	s3Client   *s3.Client
	presigner  *s3.PresignClient
	bucketName string
	endpoint   string
	publicURL  string
}

// NewR2Client builds an S3 client against the R2 endpoint for cfg.
func NewR2Client(ctx context.Context, cfg *config.R2Config) (*R2Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("R2 configuration incomplete: account id or endpoint required")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2Client{
		s3Client:   s3Client,
		presigner:  s3.NewPresignClient(s3Client),
		bucketName: cfg.BucketName,
		endpoint:   strings.TrimRight(endpoint, "/"),
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Name returns the backend name recorded on media rows.
func (c *R2Client) Name() string { return BackendR2 }

// IsRemote is always true; resolved inputs must be downloaded first.
func (c *R2Client) IsRemote() bool { return true }

// Exists reports whether key is present in the bucket.
func (c *R2Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head R2 object: %w", err)
	}
	return true, nil
}

// Upload streams a local file to key.
func (c *R2Client) Upload(ctx context.Context, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	return c.Put(ctx, key, f, contentType)
}

// Put uploads body to key.
func (c *R2Client) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	_, err := c.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}
	return nil
}

// Download writes key to localPath, replacing it atomically.
func (c *R2Client) Download(ctx context.Context, key, localPath string) error {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download from R2: %w", err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	tmp := localPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, localPath)
}

// Delete removes a file from R2
func (c *R2Client) Delete(ctx context.Context, key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}

	_, err := c.s3Client.DeleteObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to delete from R2: %w", err)
	}

	return nil
}

// GetSignedURL generates a presigned URL for temporary access
func (c *R2Client) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}

	presignedReq, err := c.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignedReq.URL, nil
}

// URL returns the public CDN URL for a key, or its path-style bucket URL
// when no public domain is configured.
func (c *R2Client) URL(key string) string {
	key = strings.TrimPrefix(key, "/")
	if c.publicURL != "" {
		return c.publicURL + "/" + key
	}
	return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucketName, key)
}
