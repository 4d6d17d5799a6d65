package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const DefaultURLExpiry = time.Hour

var ErrNotConfigured = errors.New("storage not configured")

// Storage hands out short-lived links to lesson videos uploaded to an
// S3-compatible bucket.
type Storage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	expiry    time.Duration
}

type Config struct {
	Endpoint       string
	PublicEndpoint string // host learners reach; defaults to Endpoint
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	URLExpiry      time.Duration
}

func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Region == "" {
		cfg.Region = "eu-central-1"
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, endpointOption(cfg.Endpoint))

	public := cfg.Endpoint
	if cfg.PublicEndpoint != "" {
		public = cfg.PublicEndpoint
	}
	presigner := s3.NewPresignClient(s3.NewFromConfig(awsCfg, endpointOption(public)))

	return &Storage{
		client:    client,
		presigner: presigner,
		bucket:    cfg.Bucket,
		expiry:    cfg.URLExpiry,
	}, nil
}

func endpointOption(endpoint string) func(*s3.Options) {
	return func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}
}

// VideoURL presigns a GET for the object at key. The link lives for the
// configured expiry.
func (s *Storage) VideoURL(ctx context.Context, key string) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:              aws.String(s.bucket),
		Key:                 aws.String(key),
		ResponseContentType: aws.String(ContentTypeFor(key)),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return req.URL, nil
}

// AllowPlayback lets browsers on the given origins fetch and range-request
// videos directly from the bucket.
func (s *Storage) AllowPlayback(ctx context.Context, origins []string) error {
	if s == nil {
		return ErrNotConfigured
	}
	_, err := s.client.PutBucketCors(ctx, &s3.PutBucketCorsInput{
		Bucket: aws.String(s.bucket),
		CORSConfiguration: &types.CORSConfiguration{
			CORSRules: []types.CORSRule{
				{
					AllowedOrigins: origins,
					AllowedMethods: []string{"GET", "HEAD"},
					AllowedHeaders: []string{"Range"},
					ExposeHeaders:  []string{"Content-Length", "Content-Range", "Accept-Ranges"},
					MaxAgeSeconds:  aws.Int32(3600),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("set bucket CORS: %w", err)
	}
	return nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return ErrNotConfigured
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// CleanKey normalizes an object key and rejects keys that escape the bucket
// root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("empty object key")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return cleaned, nil
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".m3u8": "application/vnd.apple.mpegurl",
	".mpd":  "application/dash+xml",
}

func ContentTypeFor(key string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return "application/octet-stream"
}
