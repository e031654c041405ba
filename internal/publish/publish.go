// Package publish uploads the aggregated MetaboAnalyst table to an
// S3-compatible bucket.
package publish

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/config"
)

// Result describes an uploaded object.
type Result struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag,omitempty"`
}

// Publisher uploads files to one bucket under a key prefix.
type Publisher struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// Option configures a Publisher.
type Option func(*s3.Options)

// WithHTTPClient overrides the HTTP client used for S3 requests.
func WithHTTPClient(hc s3.HTTPClient) Option {
	return func(o *s3.Options) { o.HTTPClient = hc }
}

// New creates a Publisher. Static credentials are used when configured,
// otherwise the default AWS credential chain.
func New(ctx context.Context, cfg config.PublishConfig, opts ...Option) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("publish: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "publish: load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		for _, opt := range opts {
			opt(o)
		}
	})

	return &Publisher{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
	}, nil
}

// Key returns the object key for a local file: {prefix}/{date}/{name}.
func (p *Publisher) Key(localPath string) string {
	return path.Join(p.prefix, p.now().UTC().Format("2006-01-02"), filepath.Base(localPath))
}

// Publish uploads the file at localPath.
func (p *Publisher) Publish(ctx context.Context, localPath string) (*Result, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, eris.Wrapf(err, "publish: open %s", localPath)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, eris.Wrapf(err, "publish: stat %s", localPath)
	}

	key := p.Key(localPath)
	out, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("text/csv"),
		Metadata:      map[string]string{"source-file": filepath.Base(localPath)},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "publish: put s3://%s/%s", p.bucket, key)
	}

	res := &Result{
		Bucket: p.bucket,
		Key:    key,
		Size:   info.Size(),
		ETag:   strings.Trim(aws.ToString(out.ETag), `"`),
	}
	zap.L().Info("publish: uploaded",
		zap.String("bucket", res.Bucket),
		zap.String("key", res.Key),
		zap.Int64("size", res.Size),
	)
	return res, nil
}
