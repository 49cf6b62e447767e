package client

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lofivibes/api/internal/config"
)

// TrackArchive keeps finished session tracks out of process memory.
type TrackArchive interface {
	// Archive stores audio for a session and returns its object key.
	Archive(ctx context.Context, sessionID, filename string, audio []byte) (string, error)
	// Link returns a URL the listener can follow for key. Public buckets
	// return a stable URL; private ones a presigned URL valid for ttl.
	Link(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Public reports whether Link returns stable, shareable URLs.
	Public() bool
	Remove(ctx context.Context, key string) error
}

// R2Client archives tracks in a Cloudflare R2 bucket.
type R2Client struct {
	s3Client   *s3.Client
	presigner  *s3.PresignClient
	bucketName string
	publicURL  string
}

// TrackKey is the object key a session's track is stored under.
func TrackKey(sessionID, filename string) string {
	return path.Join("sessions", sessionID, filename)
}

func NewR2Client(cfg *config.R2Config) (*R2Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("R2 bucket name not set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
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

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &R2Client{
		s3Client:   s3Client,
		presigner:  s3.NewPresignClient(s3Client),
		bucketName: cfg.BucketName,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (c *R2Client) Archive(ctx context.Context, sessionID, filename string, audio []byte) (string, error) {
	key := TrackKey(sessionID, filename)
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(c.bucketName),
		Key:                aws.String(key),
		Body:               bytes.NewReader(audio),
		ContentLength:      aws.Int64(int64(len(audio))),
		ContentType:        aws.String("audio/mpeg"),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", filename)),
		Metadata:           map[string]string{"session-id": sessionID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive track in R2: %w", err)
	}
	return key, nil
}

func (c *R2Client) Link(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if c.Public() {
		return c.publicURL + "/" + key, nil
	}
	presigned, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign track URL: %w", err)
	}
	return presigned.URL, nil
}

func (c *R2Client) Public() bool {
	return c.publicURL != ""
}

func (c *R2Client) Remove(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to remove archived track: %w", err)
	}
	return nil
}
