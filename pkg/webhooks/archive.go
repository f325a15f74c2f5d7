package webhooks

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/garagebook/billing-api/pkg/payments"
)

// S3Options configures the webhook payload archive
type S3Options struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Archiver writes raw webhook payloads to object storage for audit and
// replay. Keys are events/<date>/<event-id>.json.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver creates the archiver and verifies bucket access
func NewS3Archiver(ctx context.Context, opts S3Options) (*S3Archiver, error) {
	var awsCfg aws.Config
	var err error

	if opts.AccessKey != "" && opts.SecretKey != "" {
		// Static credentials, for MinIO or AWS with explicit keys.
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(opts.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				opts.AccessKey,
				opts.SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain: IAM roles, env vars.
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(opts.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access archive bucket %s: %w", opts.Bucket, err)
	}

	return &S3Archiver{
		client: client,
		bucket: opts.Bucket,
	}, nil
}

// Archive stores the raw event payload
func (a *S3Archiver) Archive(ctx context.Context, event *payments.Event, payload []byte) error {
	key := archiveKey(event, time.Now().UTC())

	hash := sha256.Sum256(payload)
	checksum := hex.EncodeToString(hash[:])

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
			"event-type":      event.Type,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive webhook payload: %w", err)
	}
	return nil
}

func archiveKey(event *payments.Event, now time.Time) string {
	return fmt.Sprintf("events/%s/%s.json", now.Format("2006-01-02"), event.ID)
}
