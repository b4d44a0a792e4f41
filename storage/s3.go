package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// S3Backend stores records in an S3 or S3-compatible bucket. Records are
// written with server-side encryption; the bucket must not be public.
type S3Backend struct {
	client     *s3.S3
	bucketName string
	prefix     string
	log        *slog.Logger
}

// NewS3Backend creates an S3 storage backend with static credentials.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	cfg := aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:     s3.New(sess),
		bucketName: bucketName,
		prefix:     prefix,
		log:        log,
	}, nil
}

func (b *S3Backend) key(user interfaces.UserID, kind RecordKind) string {
	return path.Join(b.prefix, kind.String(), user.String()+".json")
}

// Fetch reads a record object from the bucket.
func (b *S3Backend) Fetch(ctx context.Context, user interfaces.UserID, kind RecordKind) ([]byte, error) {
	key := b.key(user, kind)
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, interfaces.ErrShareNotFound
		}
		b.log.Error("Failed to read from S3", slog.String("key", key), "err", err)
		return nil, fmt.Errorf("s3 read: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 body read: %w", err)
	}
	return data, nil
}

// Store writes a record object to the bucket.
func (b *S3Backend) Store(ctx context.Context, user interfaces.UserID, kind RecordKind, data []byte) error {
	key := b.key(user, kind)
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(b.bucketName),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ServerSideEncryption: aws.String("AES256"),
	})
	if err != nil {
		b.log.Error("Failed to write to S3", slog.String("key", key), "err", err)
		return fmt.Errorf("s3 write: %w", err)
	}
	return nil
}

// Name identifies the backend in logs.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}
