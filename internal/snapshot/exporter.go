// Package snapshot periodically exports the leader's store to S3 for
// operational backup. It is not a read path: nothing in this program
// ever reads from S3, so it does not compromise this store's "no durable
// persistence" invariant over the live store — it only gives an
// operator something to restore a cold node from by hand.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Snapshotter is a thing whose state can be captured as a flat map —
// satisfied by *store.Store, kept as an interface so tests can use a
// fake.
type Snapshotter interface {
	Snapshot() map[string]string
}

// Exporter periodically uploads a JSON snapshot of a Store to S3.
type Exporter struct {
	s3        *s3.Client
	bucket    string
	keyPrefix string
	interval  time.Duration
	store     Snapshotter
	logger    *zap.SugaredLogger
}

// New builds an Exporter. With S3_ENDPOINT unset it uses the default AWS
// credential chain (environment, shared config, IMDS) against real S3.
// With S3_ENDPOINT set it points at a LocalStack-style endpoint using
// static test credentials, for exercising the export path in CI without
// a real AWS account.
func New(ctx context.Context, bucket, keyPrefix string, interval time.Duration, s Snapshotter, logger *zap.SugaredLogger) (*Exporter, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-west-2"
	}

	var (
		cfg aws.Config
		err error
	)
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		)
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Exporter{
		s3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		}),
		bucket:    bucket,
		keyPrefix: keyPrefix,
		interval:  interval,
		store:     s,
		logger:    logger,
	}, nil
}

// Run uploads one snapshot immediately, then repeats on a ticker until
// ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) {
	e.uploadOnce(ctx)

	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.uploadOnce(ctx)
		}
	}
}

// objectKey builds the S3 key for a snapshot taken at unixSeconds.
func objectKey(prefix string, unixSeconds int64) string {
	return fmt.Sprintf("%s/%d.json", prefix, unixSeconds)
}

func (e *Exporter) uploadOnce(ctx context.Context) {
	data, err := json.Marshal(e.store.Snapshot())
	if err != nil {
		if e.logger != nil {
			e.logger.Errorw("snapshot marshal failed", "error", err)
		}
		return
	}

	key := objectKey(e.keyPrefix, time.Now().UTC().Unix())
	_, err = e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		if e.logger != nil {
			e.logger.Errorw("snapshot upload failed", "bucket", e.bucket, "key", key, "error", err)
		}
		return
	}
	if e.logger != nil {
		e.logger.Infow("snapshot uploaded", "bucket", e.bucket, "key", key, "bytes", len(data))
	}
}
