// Package media offloads inline editor images: rich text arrives with data:
// URI images embedded, and storing multi-hundred-KB blobs inside comment
// documents would blow up every reply-array rewrite. Images go to object
// storage instead and the src is rewritten to a served URL.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"threadboard/internal/util"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewStore connects to the object store and ensures a public-read bucket.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
		log.Printf("media: created bucket %s", cfg.Bucket)
	}

	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    []string{"s3:GetObject"},
				"Resource":  []string{"arn:aws:s3:::" + cfg.Bucket + "/*"},
			},
		},
	}
	policyJSON, _ := json.Marshal(policy)
	if err := client.SetBucketPolicy(ctx, cfg.Bucket, string(policyJSON)); err != nil {
		log.Printf("media: set bucket policy: %v", err)
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint
	}

	return &Store{client: client, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

var dataURIPattern = regexp.MustCompile(`src="data:(image/[a-z0-9.+-]+);base64,([A-Za-z0-9+/=]+)"`)

// OffloadInlineImages uploads every data: URI image in the fragment and
// rewrites its src. A failed upload keeps the inline original (logged, not
// surfaced). A nil store leaves the fragment untouched.
func (s *Store) OffloadInlineImages(ctx context.Context, fragment string) string {
	if s == nil {
		return fragment
	}
	return dataURIPattern.ReplaceAllStringFunc(fragment, func(match string) string {
		groups := dataURIPattern.FindStringSubmatch(match)
		contentType, encoded := groups[1], groups[2]

		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			log.Printf("media: decode inline image: %v", err)
			return match
		}

		object := util.NewID("img") + extension(contentType)
		_, err = s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			log.Printf("media: upload inline image: %v", err)
			return match
		}

		return `src="` + s.publicURL + "/" + s.bucket + "/" + object + `"`
	})
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	default:
		return ""
	}
}
