// Package s3service fetches staged department files from S3.
package s3service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"ban-cadastre-engine/internal/utils"
)

// Service wraps the S3 client used to pull staged inputs.
type Service struct {
	client *s3.Client
}

// IsURI reports whether p addresses an S3 object.
func IsURI(p string) bool {
	return strings.HasPrefix(p, "s3://")
}

// NewService creates an S3 service in the given region.
func NewService(ctx context.Context, region string) (*Service, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Service{client: s3.NewFromConfig(cfg)}, nil
}

// FetchToTemp downloads s3://bucket/key into a temporary file and returns
// its path with a cleanup function.
func (s *Service) FetchToTemp(ctx context.Context, uri string) (string, func(), error) {
	bucket, key, err := splitURI(uri)
	if err != nil {
		return "", nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		utils.GetLogger().Error("Failed to fetch staged file from S3",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return "", nil, fmt.Errorf("failed to fetch %s: %w", uri, err)
	}
	defer result.Body.Close()

	tmp, err := os.CreateTemp("", "staging-*-"+path.Base(key))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(tmp, result.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("failed to write staged file: %w", err)
	}

	utils.GetLogger().Info("Fetched staged file from S3",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", written),
	)

	cleanup := func() { _ = os.Remove(tmp.Name()) }
	return tmp.Name(), cleanup, nil
}

func splitURI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	if rest == uri {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed s3 uri: %s", uri)
	}
	return parts[0], parts[1], nil
}
