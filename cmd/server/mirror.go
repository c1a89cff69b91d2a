package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"stellarcolony.ai/internal/persistence/objstore"
)

// openMirror returns nil unless STELLAR_S3_MIRROR is set.
func openMirror(dataDir string, logger *log.Logger) (*objstore.Mirror, error) {
	if !envBool("STELLAR_S3_MIRROR", false) {
		return nil, nil
	}
	cfg := objstore.Config{
		Endpoint:        os.Getenv("STELLAR_S3_ENDPOINT"),
		Bucket:          os.Getenv("STELLAR_S3_BUCKET"),
		Region:          os.Getenv("STELLAR_S3_REGION"),
		AccessKeyID:     os.Getenv("STELLAR_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("STELLAR_S3_SECRET_ACCESS_KEY"),
	}
	client, err := objstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("STELLAR_S3_MIRROR=true: %w", err)
	}
	return objstore.NewMirror(client, objstore.MirrorOptions{
		DataDir: dataDir,
		Prefix:  strings.TrimSpace(os.Getenv("STELLAR_S3_PREFIX")),
		Workers: envInt("STELLAR_S3_UPLOAD_WORKERS", 2),
		Logger:  logger,
	}), nil
}
