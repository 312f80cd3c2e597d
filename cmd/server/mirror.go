package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"ghoulrush.io/internal/persistence/objstore"
)

// openMirror builds the object-storage mirror from GR_MIRROR_* variables.
// It returns nil when GR_MIRROR is not set.
func openMirror(dataDir string, logger *zap.Logger) (*objstore.Mirror, error) {
	if !envBool("GR_MIRROR", false) {
		return nil, nil
	}
	client, err := objstore.NewClient(objstore.ClientConfig{
		Endpoint:        os.Getenv("GR_MIRROR_ENDPOINT"),
		Bucket:          os.Getenv("GR_MIRROR_BUCKET"),
		Region:          os.Getenv("GR_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("GR_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("GR_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("GR_MIRROR=true: %w", err)
	}
	return objstore.NewMirror(client, dataDir, objstore.MirrorOptions{
		Prefix:  strings.TrimSpace(os.Getenv("GR_MIRROR_PREFIX")),
		Workers: envInt("GR_MIRROR_UPLOAD_WORKERS", 2),
	}, logger), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
