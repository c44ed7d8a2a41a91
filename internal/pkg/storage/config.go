package storage

import (
	"errors"
	"fmt"

	"github.com/ManuelReschke/Bookfox/internal/pkg/env"
)

const (
	DriverS3    = "s3"
	DriverLocal = "local"
)

// Config holds object storage configuration
type Config struct {
	Driver string

	// s3
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	CreateBucket    bool

	// local
	LocalRoot     string
	PublicBaseURL string
	SigningSecret string
}

// LoadConfig loads storage configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		Driver:          env.GetEnv("STORAGE_DRIVER", DriverLocal),
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		CreateBucket:    env.GetBool("S3_CREATE_BUCKET", !isProd()),
		LocalRoot:       env.GetEnv("STORAGE_LOCAL_ROOT", "./data/objects"),
		PublicBaseURL:   env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"),
		SigningSecret:   env.GetEnv("STORAGE_SIGNING_SECRET", ""),
	}

	switch config.Driver {
	case DriverS3:
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required for the s3 storage driver")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required for the s3 storage driver")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required for the s3 storage driver")
		}
	case DriverLocal:
		if config.SigningSecret == "" {
			return nil, errors.New("STORAGE_SIGNING_SECRET is required for the local storage driver")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", config.Driver)
	}

	return config, nil
}

func isProd() bool {
	return env.GetEnv("APP_ENV", "prod") == "prod"
}
