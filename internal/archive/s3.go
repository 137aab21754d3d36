// Package archive stores raw end-of-call reports in object storage.
package archive

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
)

// Archiver keeps a copy of a call report. Archiving is best effort; callers
// log failures and carry on.
type Archiver interface {
	ArchiveCallReport(ctx context.Context, shop, callJobID string, report []byte) (string, error)
}

// Nop discards reports.
type Nop struct{}

func (Nop) ArchiveCallReport(context.Context, string, string, []byte) (string, error) {
	return "", nil
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
	clock  func() time.Time
}

// NewS3Archiver builds an S3 client. Static keys are used when given,
// otherwise the default AWS credential chain; a custom endpoint switches to
// path-style addressing for S3-compatible stores.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Archiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Archiver(client putObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, clock: time.Now}
}

// Key lays reports out by shop and UTC day.
func (a *S3Archiver) Key(shop, callJobID string, at time.Time) string {
	at = at.UTC()
	return strings.TrimLeft(a.prefix, "/") + path.Join(shop, at.Format("2006/01/02"), callJobID+".json")
}

func (a *S3Archiver) ArchiveCallReport(ctx context.Context, shop, callJobID string, report []byte) (string, error) {
	key := a.Key(shop, callJobID, a.clock())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(report),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"shop":        shop,
			"call-job-id": callJobID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}
