package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Presigner hands out short-lived PUT URLs so training archives go straight
// from the browser to the bucket without passing through the API.
type Presigner struct {
	presign *s3.PresignClient
	bucket  string
	expires time.Duration
}

type S3Options struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Bucket    string
	Expires   time.Duration
}

func NewPresigner(ctx context.Context, opts S3Options) (*Presigner, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if opts.Expires <= 0 {
		opts.Expires = 5 * time.Minute
	}

	creds := credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(creds),
		config.WithRegion(opts.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Presigner{
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		expires: opts.Expires,
	}, nil
}

// PresignUpload returns a PUT URL for the given object key.
func (p *Presigner) PresignUpload(ctx context.Context, key string) (string, error) {
	req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expires))
	if err != nil {
		return "", fmt.Errorf("presign put object: %w", err)
	}
	return req.URL, nil
}
