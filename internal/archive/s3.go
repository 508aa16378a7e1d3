package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/chriscarterux/designdream-sub001/internal/config"
	"github.com/chriscarterux/designdream-sub001/internal/models"
)

// S3Archiver copies abandoned failure records to object storage so their
// payloads survive database retention and can be replayed by hand later.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// New builds an archiver against the configured bucket. The caller should
// only construct one when ARCHIVE_S3_BUCKET is set.
func New(ctx context.Context, cfg config.Config) (*S3Archiver, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Archiver{client: client, bucket: cfg.ArchiveS3Bucket}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveS3Region),
	}
	if cfg.ArchiveS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveS3Endpoint,
					HostnameImmutable: cfg.ArchiveS3PathStyle,
					SigningRegion:     cfg.ArchiveS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	}), nil
}

// archivedFailure is the document written to the bucket. It keeps the raw
// payload alongside enough metadata to replay the event.
type archivedFailure struct {
	FailureID       string          `json:"failure_id"`
	ExternalEventID string          `json:"external_event_id"`
	Provider        string          `json:"provider"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	RetryCount      int             `json:"retry_count"`
	ErrorMessage    string          `json:"error_message"`
	AbandonedAt     time.Time       `json:"abandoned_at"`
}

// Archive writes one abandoned record under
// abandoned/<provider>/<date>/<event_id>.json.
func (a *S3Archiver) Archive(ctx context.Context, f models.FailureRecord, abandonedAt time.Time) error {
	doc := archivedFailure{
		FailureID:       f.ID,
		ExternalEventID: f.ExternalEventID,
		Provider:        f.Provider,
		EventType:       f.EventType,
		Payload:         f.Payload,
		RetryCount:      f.RetryCount,
		ErrorMessage:    f.ErrorMessage,
		AbandonedAt:     abandonedAt,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal archived failure: %w", err)
	}
	key := fmt.Sprintf("abandoned/%s/%s/%s.json", f.Provider, abandonedAt.Format("2006-01-02"), f.ExternalEventID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
