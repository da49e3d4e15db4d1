package remote

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Source reads an object from S3 using ranged GetObject calls, for
// manifests that point at s3:// URLs instead of public HTTP mirrors.
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
}

func NewS3Source(rawURL, profile string) (*S3Source, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("S3 URL must name an object key: %s", rawURL)
	}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithSharedConfigProfile(profile),
		config.WithRetryMode("adaptive"),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	log.Debug().Str("op", "remote/s3").Msgf("client ready for s3://%s/%s", bucket, key)
	return &S3Source{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		key:    key,
	}, nil
}

func (s *S3Source) Probe(ctx context.Context) (FileInfo, error) {
	headObj, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("error getting S3 object info: %v", err)
	}
	size := int64(0)
	if headObj.ContentLength != nil {
		size = *headObj.ContentLength
	}
	info := FileInfo{
		Size: size,
		Name: path.Base(s.key),
	}
	if headObj.ETag != nil {
		info.ETag = strings.Trim(*headObj.ETag, `"`)
	}
	return info, nil
}

func (s *S3Source) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, fmt.Errorf("error getting object range: %v", err)
	}
	return result.Body, nil
}

func parseS3URL(rawURL string) (string, string, error) {
	trimmed := strings.TrimPrefix(rawURL, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 1 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URL format")
	}
	bucket := parts[0]
	key := ""
	if len(parts) > 1 {
		key = parts[1]
	}
	return bucket, key, nil
}
