package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DeleteObjects accepts at most this many keys per request.
const maxDeleteBatch = 1000

// S3Client is the slice of the S3 API the storage uses. Tests inject mocks
// through WithS3Client.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3ListObjectsV2Paginator pages through prefix listings.
type S3ListObjectsV2Paginator interface {
	HasMorePages() bool
	NextPage(ctx context.Context, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// PaginatorFactory builds the paginator DeletePrefix walks a prefix with.
type PaginatorFactory func(client S3Client, params *s3.ListObjectsV2Input) S3ListObjectsV2Paginator

// sdkPaginator wraps the real SDK paginator. Injected clients that are not
// a *s3.Client must bring their own factory.
func sdkPaginator(c S3Client, params *s3.ListObjectsV2Input) S3ListObjectsV2Paginator {
	if sc, ok := c.(*s3.Client); ok {
		return s3.NewListObjectsV2Paginator(sc, params)
	}
	return nil
}

// S3Storage keeps artifacts in Amazon S3 or an S3-compatible store.
// Safe for concurrent use.
type S3Storage struct {
	client     S3Client
	bucket     string
	baseURL    string
	putTimeout time.Duration
	paginate   PaginatorFactory
}

var _ Storage = (*S3Storage)(nil)

// S3Config configures S3 storage.
type S3Config struct {
	Bucket         string `env:"ARTIFACT_S3_BUCKET"`
	Region         string `env:"ARTIFACT_S3_REGION"`
	AccessKeyID    string `env:"ARTIFACT_S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"ARTIFACT_S3_SECRET_KEY"`
	Endpoint       string `env:"ARTIFACT_S3_ENDPOINT"`   // S3-compatible services
	BaseURL        string `env:"ARTIFACT_S3_BASE_URL"`   // Public URL base (CDN)
	ForcePathStyle bool   `env:"ARTIFACT_S3_PATH_STYLE"` // MinIO and friends
}

// S3Option configures S3Storage construction.
type S3Option func(*s3Settings)

type s3Settings struct {
	client     S3Client
	httpClient *http.Client
	loadOpts   []func(*config.LoadOptions) error
	clientOpts []func(*s3.Options)
	paginate   PaginatorFactory
	putTimeout time.Duration
}

// WithS3Client injects a pre-configured client and skips AWS config loading.
func WithS3Client(client S3Client) S3Option {
	return func(st *s3Settings) {
		st.client = client
	}
}

// WithHTTPClient sets the HTTP client the SDK issues requests over.
func WithHTTPClient(client *http.Client) S3Option {
	return func(st *s3Settings) {
		st.httpClient = client
	}
}

// WithS3ConfigOption appends an AWS config loader option. Loader options run
// after the ones derived from S3Config and can override them.
func WithS3ConfigOption(option func(*config.LoadOptions) error) S3Option {
	return func(st *s3Settings) {
		st.loadOpts = append(st.loadOpts, option)
	}
}

// WithS3ClientOption appends an option applied to the constructed S3 client.
func WithS3ClientOption(option func(*s3.Options)) S3Option {
	return func(st *s3Settings) {
		st.clientOpts = append(st.clientOpts, option)
	}
}

// WithPaginatorFactory replaces the SDK paginator, mainly for tests.
func WithPaginatorFactory(factory PaginatorFactory) S3Option {
	return func(st *s3Settings) {
		st.paginate = factory
	}
}

// WithS3PutTimeout bounds a single Put. Without it the caller's context
// deadline applies.
func WithS3PutTimeout(timeout time.Duration) S3Option {
	return func(st *s3Settings) {
		st.putTimeout = timeout
	}
}

// NewS3Storage creates S3-backed artifact storage.
func NewS3Storage(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Storage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	var st s3Settings
	for _, opt := range opts {
		opt(&st)
	}

	client := st.client
	if client == nil {
		var err error
		if client, err = st.connect(ctx, cfg); err != nil {
			return nil, err
		}
	}

	paginate := st.paginate
	if paginate == nil {
		paginate = sdkPaginator
	}

	return &S3Storage{
		client:     client,
		bucket:     cfg.Bucket,
		baseURL:    publicBaseURL(cfg),
		putTimeout: st.putTimeout,
		paginate:   paginate,
	}, nil
}

// connect loads AWS configuration and dials a real S3 client.
func (st *s3Settings) connect(ctx context.Context, cfg S3Config) (S3Client, error) {
	load := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		load = append(load, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
	}
	if st.httpClient != nil {
		load = append(load, config.WithHTTPClient(st.httpClient))
	}
	load = append(load, st.loadOpts...)

	awsCfg, err := config.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToLoadConfig, err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
		for _, opt := range st.clientOpts {
			opt(o)
		}
	}), nil
}

// publicBaseURL derives the artifact URL base: an explicit CDN base wins,
// then the custom endpoint in path style, then the virtual-host AWS form.
// The result always ends with a single slash.
func publicBaseURL(cfg S3Config) string {
	base := cfg.BaseURL
	switch {
	case base != "":
	case cfg.Endpoint != "":
		base = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return strings.TrimSuffix(base, "/") + "/"
}

// s3ErrorCodes maps S3 API error codes onto package sentinels. HeadObject
// reports missing keys as NotFound, GetObject as NoSuchKey.
var s3ErrorCodes = map[string]error{
	"NoSuchKey":          ErrArtifactNotFound,
	"NotFound":           ErrArtifactNotFound,
	"NoSuchBucket":       ErrBucketNotFound,
	"AccessDenied":       ErrAccessDenied,
	"SlowDown":           ErrServiceUnavailable,
	"ServiceUnavailable": ErrServiceUnavailable,
	"RequestTimeout":     ErrServiceUnavailable,
}

// classifyS3Error maps SDK failures onto the package sentinels. Unrecognized
// errors keep their original detail behind the operation name.
func classifyS3Error(err error, operation string) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrOperationTimeout, operation)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s", ErrOperationCanceled, operation)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if sentinel, ok := s3ErrorCodes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%w: %s", sentinel, operation)
		}
		return fmt.Errorf("%s failed (code %s): %w", operation, apiErr.ErrorCode(), err)
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}

// countedReader reports how many bytes PutObject consumed; S3 echoes no size
// back for streamed uploads.
type countedReader struct {
	src  io.Reader
	size int64
}

func (c *countedReader) Read(p []byte) (int, error) {
	n, err := c.src.Read(p)
	c.size += int64(n)
	return n, err
}

// Put streams an artifact to S3.
func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader, opts ...PutOption) (*Artifact, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNilReader
	}
	if s.putTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.putTimeout)
		defer cancel()
	}

	var po putOptions
	for _, opt := range opts {
		opt(&po)
	}

	contentType, body, err := resolveContentType(key, r, po.contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact stream: %w", err)
	}

	counted := &countedReader{src: body}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        counted,
		ContentType: aws.String(contentType),
	}); err != nil {
		return nil, classifyS3Error(err, "upload artifact")
	}

	return &Artifact{
		Key:         key,
		Size:        counted.size,
		ContentType: contentType,
		URL:         s.URL(key),
	}, nil
}

// Delete removes a single artifact from S3. Deleting a missing artifact
// returns ErrArtifactNotFound.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	// DeleteObject is a silent no-op for missing keys; HEAD first keeps the
	// not-found contract of the local backend.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return classifyS3Error(err, "check artifact")
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return classifyS3Error(err, "delete artifact")
	}
	return nil
}

// DeletePrefix removes every artifact under the given prefix.
func (s *S3Storage) DeletePrefix(ctx context.Context, prefix string) error {
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return err
	}
	if prefix != "" {
		prefix += "/"
	}

	keys, err := s.collectKeys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s", ErrPrefixNotFound, prefix)
	}

	for start := 0; start < len(keys); start += maxDeleteBatch {
		batch := keys[start:min(start+maxDeleteBatch, len(keys))]
		if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: batch},
		}); err != nil {
			return classifyS3Error(err, "delete prefix")
		}
	}
	return nil
}

// collectKeys pages through every object stored under prefix.
func (s *S3Storage) collectKeys(ctx context.Context, prefix string) ([]types.ObjectIdentifier, error) {
	pager := s.paginate(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if pager == nil {
		return nil, ErrPaginatorNil
	}

	var keys []types.ObjectIdentifier
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Error(err, "list prefix")
		}
		for _, obj := range page.Contents {
			keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
		}
	}
	return keys, nil
}

// Exists reports whether an artifact is stored under key.
func (s *S3Storage) Exists(ctx context.Context, key string) bool {
	key, err := cleanKey(key)
	if err != nil {
		return false
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

// List returns the artifacts directly under the given prefix.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]Object, error) {
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		prefix += "/"
	}

	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, classifyS3Error(err, "list prefix")
	}

	objects := make([]Object, 0, len(resp.Contents))
	for _, obj := range resp.Contents {
		key := aws.ToString(obj.Key)
		if key == prefix {
			// the folder marker some S3 tools create
			continue
		}
		objects = append(objects, Object{Key: key, Size: aws.ToInt64(obj.Size)})
	}
	return objects, nil
}

// URL returns the public URL for an artifact.
func (s *S3Storage) URL(key string) string {
	return s.baseURL + strings.TrimPrefix(key, "/")
}
