package storage

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/common/config"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// PutObjectAPI is the slice of the S3 client the uploader needs
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader stores signed packages in a bucket
type S3Uploader struct {
	client PutObjectAPI
	bucket string
	prefix string
	log    Logger
}

// NewS3Client builds an S3 client from storage settings
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewS3Uploader creates an uploader for bucket
func NewS3Uploader(client PutObjectAPI, bucket, prefix string, log Logger) *S3Uploader {
	return &S3Uploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    log,
	}
}

// ObjectKey returns <prefix>/<task>/<platform>/<package>/<file>
func (u *S3Uploader) ObjectKey(target pipeline.UploadTarget) string {
	return path.Join(u.prefix, string(target.TaskID), target.Platform, string(target.PackageID), target.FileName)
}

// Upload puts the file and returns its s3:// href
func (u *S3Uploader) Upload(ctx context.Context, filePath string, target pipeline.UploadTarget) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", filePath, err)
	}

	key := u.ObjectKey(target)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(target.FileName)),
		Metadata: map[string]string{
			"sign-task-id": string(target.TaskID),
			"package-id":   string(target.PackageID),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}

	href := fmt.Sprintf("s3://%s/%s", u.bucket, key)
	u.log.Debug("uploaded package", "href", href, "size", info.Size())
	return href, nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".rpm":
		return "application/x-rpm"
	case ".deb":
		return "application/vnd.debian.binary-package"
	case ".dsc":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
