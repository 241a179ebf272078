package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/waypost-app/waypost-engine/pkg/models"
)

// s3Client is the subset of the S3 API the sink uses.
type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes each archived batch as one JSONL object under
// <prefix>/<entity type>/<timestamp>-<uuid>.jsonl. PutObject is atomic,
// so an acknowledged batch is durable and a failed one leaves no partial
// object behind.
type S3Sink struct {
	client s3Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Sink creates an S3-backed archive sink.
func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

var _ Sink = (*S3Sink)(nil)

// Write implements Sink.
func (s *S3Sink) Write(ctx context.Context, entityType models.EntityType, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	now := s.now().UTC()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		entry := archiveEntry{
			ID:           rec.ID,
			EntityType:   entityType,
			ParentID:     rec.ParentID,
			CreatedAt:    rec.CreatedAt,
			TombstonedAt: rec.TombstonedAt,
			ArchivedAt:   now,
			Fields:       rec.Fields,
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode archive entry: %w", err)
		}
	}

	key := fmt.Sprintf("%s/%s-%s.jsonl",
		entityType, now.Format("20060102T150405Z"), uuid.NewString())
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to put archive object %s: %w", key, err)
	}
	return nil
}
