package attach

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3GetObjectAPI - часть клиента S3, нужная для чтения объекта
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// s3Attachment - объект в S3 bucket
type s3Attachment struct {
	client S3GetObjectAPI
	bucket string
	key    string
}

// S3Object создает вложение из объекта S3
func S3Object(client S3GetObjectAPI, bucket, key string) Attachment {
	return &s3Attachment{client: client, bucket: bucket, key: key}
}

// NewS3Client создает клиент S3 из стандартной цепочки AWS конфигурации
// (переменные окружения, shared config, IMDS)
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg), nil
}

func (s *s3Attachment) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, s.key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}

	return out.Body, size, nil
}

func (s *s3Attachment) Name() string {
	return "s3://" + s.bucket + "/" + s.key
}
