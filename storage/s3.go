package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for R2, MinIO, etc.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Archive keeps the raw provider payloads a crawl was built from
type S3Archive struct {
	client *s3.Client
	bucket string
}

func NewS3Archive(ctx context.Context, cfg S3Config) (*S3Archive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archive{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PayloadKey is raw/{YYYYMMDD}/{fixture}/{kind}-{unix}.json
func PayloadKey(fixtureID, kind string, at time.Time) string {
	return fmt.Sprintf("raw/%s/%s/%s-%d.json", at.UTC().Format("20060102"), fixtureID, kind, at.Unix())
}

// Put uploads data with the given key
func (a *S3Archive) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// ArchivePayload stores one fetched body under PayloadKey
func (a *S3Archive) ArchivePayload(ctx context.Context, fixtureID, kind string, at time.Time, body []byte) error {
	return a.Put(ctx, PayloadKey(fixtureID, kind, at), bytes.NewReader(body), "application/json")
}
