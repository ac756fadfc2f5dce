package statestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// DefaultS3Key is the object key the state blob is stored under
const DefaultS3Key = "woosync/state.json"

// s3API is the subset of the S3 client the store needs
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds S3 (or S3-compatible) storage settings
type S3Config struct {
	Bucket       string
	Key          string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// Ensure S3Store implements StateStore
var _ integration.StateStore = (*S3Store)(nil)

// S3Store keeps the state blob as one object.
// It is compatible with any S3-compatible storage (AWS S3, MinIO, etc.)
type S3Store struct {
	client s3API
	bucket string
	key    string
	logger *zap.Logger
}

// NewS3Store creates an S3Store from configuration. Without static
// credentials the default AWS credential chain is used.
func NewS3Store(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("state bucket is required")
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, errors.New("state access key and secret key must be set together")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return newS3StoreWithClient(client, cfg.Bucket, cfg.Key, logger), nil
}

func newS3StoreWithClient(client s3API, bucket, key string, logger *zap.Logger) *S3Store {
	if key == "" {
		key = DefaultS3Key
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Store{client: client, bucket: bucket, key: key, logger: logger}
}

// Load downloads the state object
func (s *S3Store) Load(ctx context.Context) (*integration.SyncState, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, integration.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to download state: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state object: %w", err)
	}
	return integration.ParseSyncState(data)
}

// Save uploads the state object
func (s *S3Store) Save(ctx context.Context, state *integration.SyncState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload state: %w", err)
	}
	s.logger.Debug("State uploaded",
		zap.String("bucket", s.bucket),
		zap.String("key", s.key),
		zap.Int("bytes", len(data)),
	)
	return nil
}
