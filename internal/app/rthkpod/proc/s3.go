package proc

import (
	"context"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/minio/minio-go/v7"
)

// S3Store publishes the generated feed to S3-compatible storage so podcast
// clients can fetch it from a stable URL.
type S3Store struct {
	Client   *minio.Client
	Location string
	Bucket   string
}

// UploadFeed to s3 storage, creating the bucket on first use.
func (s *S3Store) UploadFeed(ctx context.Context, objectName, filePath string) (*minio.UploadInfo, error) {
	return s.uploadFile(ctx, objectName, filePath, "application/rss+xml")
}

func (s *S3Store) uploadFile(ctx context.Context, objectName, filePath, contentType string) (*minio.UploadInfo, error) {
	exists, err := s.Client.BucketExists(ctx, s.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", s.Bucket, err)
	}

	if !exists {
		if err := s.Client.MakeBucket(ctx, s.Bucket, minio.MakeBucketOptions{Region: s.Location}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", s.Bucket, err)
		}
	}

	uploadInfo, err := s.Client.FPutObject(ctx, s.Bucket, objectName, filePath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, err
	}

	if uploadInfo.Location == "" {
		location, err := s.getLocation(ctx, objectName)
		if err != nil {
			log.Printf("[WARN] can't resolve location for %s in bucket %s, %v", objectName, s.Bucket, err)
		} else {
			uploadInfo.Location = location
		}
	}
	return &uploadInfo, nil
}

func (s *S3Store) getLocation(ctx context.Context, objectName string) (string, error) {
	endpoint := s.Client.EndpointURL()

	statInfo, err := s.Client.StatObject(ctx, s.Bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint.String(), "/"), s.Bucket, statInfo.Key), nil
}
