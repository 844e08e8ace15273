package storage

import (
	"context"
	"fmt"
	"time"

	"FeiLiu/config"
	"FeiLiu/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	minioClient *minio.Client
	minioBucket string
)

// InitMinio 初始化 MinIO 客户端
// 未配置 MINIO_ENDPOINT 时跳过，缩略图只保留在本地磁盘。
func InitMinio(cfg *config.Config) error {
	if cfg.MinioEndpoint == "" {
		logger.Info("MinIO 未配置，缩略图镜像已禁用")
		return nil
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 检查存储桶是否存在
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{
			Region: cfg.MinioRegion,
		}); err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	minioBucket = cfg.MinioBucket
	logger.Info("MinIO 连接成功", logger.String("bucket", cfg.MinioBucket))
	return nil
}

// GetMinioClient 返回全局 MinIO 客户端，未启用时为 nil
func GetMinioClient() *minio.Client {
	return minioClient
}

// Enabled 报告 MinIO 镜像是否启用
func Enabled() bool {
	return minioClient != nil
}

// UploadThumbnail 将生成的缩略图上传到 MinIO
func UploadThumbnail(ctx context.Context, localPath, objectName string) error {
	if minioClient == nil {
		return nil
	}

	_, err := minioClient.FPutObject(ctx, minioBucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return fmt.Errorf("上传缩略图失败: %w", err)
	}

	logger.Debug("缩略图已上传到 MinIO",
		logger.String("object", objectName))
	return nil
}
