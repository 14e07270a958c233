// Package s3 is the S3-backed ObjectStore (C2, §4.2/§6). It is grounded on the
// credential-resolution surface exercised by tempodb/backend/s3's TestCredentials (static
// keys, default-credentials chain, profile) and on the aws-sdk-go-v2 PutObjectInput.IfNoneMatch
// precondition used by the pack's s3-wal and trillian-tessera storage examples to implement
// put-if-absent natively against S3, something minio-go's public client does not expose.
package s3

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	"github.com/grafana/dskit/flagext"

	"github.com/thill/klstore/backend"
)

// Config recognizes exactly the object-store keys in spec.md §6. The three static
// credential fields use flagext.Secret, the same type tempo's own per-backend configs use
// for secret_access_key/session_token, so neither a stringified Config nor its YAML
// marshaling ever leaks a credential into a log line.
type Config struct {
	ObjectPrefix          string          `yaml:"object_prefix"`
	BucketName            string          `yaml:"bucket_name"`
	Endpoint              string          `yaml:"endpoint"`
	Region                string          `yaml:"region"`
	PathStyle             bool            `yaml:"path_style"`
	UseDefaultCredentials bool            `yaml:"use_default_credentials"`
	AccessKey             string          `yaml:"access_key"`
	SecretKey             flagext.Secret  `yaml:"secret_key"`
	SecurityToken         flagext.Secret  `yaml:"security_token"`
	SessionToken          flagext.Secret  `yaml:"session_token"`
	Profile               string          `yaml:"profile"`
}

// RegisterFlagsAndApplyDefaults wires cfg into f under prefix, following the convention
// used throughout cmd/tempo/app/config.go.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Region = "us-east-1"
	c.UseDefaultCredentials = true

	f.StringVar(&c.ObjectPrefix, prefix+".object-prefix", "", "prefix prepended to every object name")
	f.StringVar(&c.BucketName, prefix+".bucket", "", "S3 bucket name (required)")
	f.StringVar(&c.Endpoint, prefix+".endpoint", "", "override endpoint URL, for S3-compatible stores")
	f.StringVar(&c.Region, prefix+".region", c.Region, "AWS region")
	f.BoolVar(&c.PathStyle, prefix+".path-style", false, "use path-style bucket addressing")
	f.BoolVar(&c.UseDefaultCredentials, prefix+".use-default-credentials", c.UseDefaultCredentials, "resolve credentials via the default AWS chain")
	f.StringVar(&c.AccessKey, prefix+".access-key", "", "static access key (when use-default-credentials is false)")
	f.Var(&c.SecretKey, prefix+".secret-key", "static secret key (when use-default-credentials is false)")
	f.Var(&c.SecurityToken, prefix+".security-token", "static security token (when use-default-credentials is false)")
	f.Var(&c.SessionToken, prefix+".session-token", "static session token (when use-default-credentials is false)")
	f.StringVar(&c.Profile, prefix+".profile", "", "named credentials profile (when use-default-credentials is false)")
}

var errConfigInvalid = errors.New("s3: invalid configuration")

func (c *Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("%w: bucket_name is required", errConfigInvalid)
	}
	return nil
}

// Store is the S3-backed ObjectStore.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New resolves credentials per cfg and constructs a Store. Credential resolution and
// region/endpoint plumbing are out of scope for the core per spec.md §1; this is the thin
// glue spec.md treats as an external collaborator.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if !cfg.UseDefaultCredentials {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey.Value, cfg.SessionToken.Value,
		)))
		if cfg.Profile != "" {
			opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
		}
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.Endpoint)
		}
	})

	return &Store{client: client, bucket: cfg.BucketName, prefix: cfg.ObjectPrefix}, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, name string, body []byte) (backend.PutResult, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      awssdk.String(s.bucket),
		Key:         awssdk.String(name),
		Body:        bytes.NewReader(body),
		IfNoneMatch: awssdk.String("*"),
	})
	if err == nil {
		return backend.Created, nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return backend.AlreadyExists, nil
	}
	return 0, fmt.Errorf("put-if-absent %q: %w", name, err)
}

func (s *Store) Put(ctx context.Context, name string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(name),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", name, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string, r *backend.ByteRange) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(name),
	}
	if r != nil {
		input.Range = awssdk.String(formatRange(*r))
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("get %q: %w", name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %q: %w", name, err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, prefix string, opts backend.ListOptions) ([]string, error) {
	var names []string
	var token *string

	// S3's StartAfter is natively "keys greater than" only. For a reverse listing we want
	// keys strictly less than StartAfter (the tail-bootstrap use in §4.4 passes a sentinel
	// greater than any real name and expects the predecessor back), so we fetch unbounded
	// and filter/reverse client-side instead of handing StartAfter to S3 in that case.
	var startAfter *string
	if !opts.Reverse {
		startAfter = nonEmptyOrNil(opts.StartAfter)
	}

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            awssdk.String(s.bucket),
			Prefix:            awssdk.String(prefix),
			StartAfter:        startAfter,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}

		for _, obj := range out.Contents {
			key := awssdk.ToString(obj.Key)
			if opts.Reverse && opts.StartAfter != "" && key >= opts.StartAfter {
				continue
			}
			names = append(names, key)
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken

		// Forward listing can stop as soon as it has Limit names, since S3 returns a page
		// in ascending key order; reverse still has to walk every page before reversing,
		// since S3 offers no native reverse pagination (§4.2/§9).
		if !opts.Reverse && opts.Limit > 0 && len(names) >= opts.Limit {
			break
		}
	}

	if opts.Reverse {
		for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
			names[i], names[j] = names[j], names[i]
		}
	}

	if opts.Limit > 0 && len(names) > opts.Limit {
		names = names[:opts.Limit]
	}

	return names, nil
}

// IsTransient classifies an error returned by this Store's capability methods as
// retryable (§7): AWS SDK errors that self-report as retryable (throttling, 5xx,
// connection resets), plus smithy's generic request-send failures. Used to parametrize
// backend.WithRetry around a Store.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, backend.ErrNotFound) {
		return false
	}
	var retryable interface{ RetryableError() bool }
	if errors.As(err, &retryable) {
		return retryable.RetryableError()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout", "ServiceUnavailable", "SlowDown", "InternalError", "Throttling", "ThrottlingException":
			return true
		}
		return false
	}
	// Anything that isn't a recognized AWS API error (network I/O failures, DNS, etc.)
	// is treated as transient, matching §7's "transient object-store errors retry" default.
	return true
}

func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(name),
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

func formatRange(r backend.ByteRange) string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func nonEmptyOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return awssdk.String(s)
}
