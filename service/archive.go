package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/clinsys/capture-service/config"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// SnapshotArchive keeps the raw robot payload of each capture attempt for
// forensic inspection alongside the session log trail.
type SnapshotArchive interface {
	Store(ctx context.Context, taskID, executionID uuid.UUID, payload []byte) (string, error)
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	Exists(ctx context.Context, objectName string) (bool, error)
}

type MinioSnapshotArchive struct {
	client *minio.Client
	bucket string
}

func NewMinioSnapshotArchive(cfg config.MinIOConfig) (*MinioSnapshotArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioSnapshotArchive{client: client, bucket: cfg.BucketName}, nil
}

// SnapshotObjectName is the canonical object key for one capture attempt.
func SnapshotObjectName(taskID, executionID uuid.UUID) string {
	return fmt.Sprintf("tasks/%s/%s.json", taskID, executionID)
}

func (a *MinioSnapshotArchive) Store(ctx context.Context, taskID, executionID uuid.UUID, payload []byte) (string, error) {
	objectName := SnapshotObjectName(taskID, executionID)
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}
	return objectName, nil
}

func (a *MinioSnapshotArchive) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	url, err := a.client.PresignedGetObject(ctx, a.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

func (a *MinioSnapshotArchive) Exists(ctx context.Context, objectName string) (bool, error) {
	_, err := a.client.StatObject(ctx, a.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
