package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tencentyun/cos-go-sdk-v5"

	"github.com/productx/backoffice/internal/backend"
)

// Config selects and configures the storage provider.
type Config struct {
	Provider       string       `koanf:"provider"`
	MaxSizeMB      int          `koanf:"max_size_mb"`
	AllowedExts    []string     `koanf:"allowed_exts"`
	BytesPerSecond int64        `koanf:"bytes_per_second"`
	Backend        BackendPaths `koanf:"backend"`
	OSS            OSSConfig    `koanf:"oss"`
	COS            COSConfig    `koanf:"cos"`
	S3             S3Config     `koanf:"s3"`
}

// BackendPaths locates the backend's upload and policy endpoints.
type BackendPaths struct {
	UploadPath string `koanf:"upload_path"`
	PolicyPath string `koanf:"policy_path"`
}

// OSSConfig configures direct uploads to Aliyun OSS.
type OSSConfig struct {
	Endpoint        string `koanf:"endpoint"`
	Bucket          string `koanf:"bucket"`
	AccessKeyID     string `koanf:"access_key_id"`
	AccessKeySecret string `koanf:"access_key_secret"`
	PublicBase      string `koanf:"public_base"`
	CNAME           bool   `koanf:"cname"`
}

// COSConfig configures direct uploads to Tencent COS.
type COSConfig struct {
	BucketURL  string `koanf:"bucket_url"`
	SecretID   string `koanf:"secret_id"`
	SecretKey  string `koanf:"secret_key"`
	PublicBase string `koanf:"public_base"`
}

// S3Config configures direct uploads to S3 or an S3 compatible store.
type S3Config struct {
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	Bucket          string `koanf:"bucket"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	PublicBase      string `koanf:"public_base"`
	PathStyle       bool   `koanf:"path_style"`
}

// MaxSize returns the configured limit in bytes.
func (c Config) MaxSize() int64 {
	return int64(c.MaxSizeMB) << 20
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg Config, client *backend.Client) (Provider, error) {
	switch cfg.Provider {
	case "", ProviderBackend:
		return NewBackendProvider(client, cfg.Backend.UploadPath), nil
	case ProviderOSSPolicy:
		return NewPolicyProvider(client, cfg.Backend.PolicyPath, nil), nil
	case ProviderOSS:
		return NewOSSProvider(cfg.OSS)
	case ProviderCOS:
		return NewCOSProvider(cfg.COS, nil)
	case ProviderS3:
		return NewS3Provider(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// BackendProvider posts files to the backend's multipart upload endpoint.
type BackendProvider struct {
	client *backend.Client
	path   string
}

// NewBackendProvider creates a BackendProvider. The path defaults to
// /manage/image/upload.
func NewBackendProvider(client *backend.Client, uploadPath string) *BackendProvider {
	if uploadPath == "" {
		uploadPath = "/manage/image/upload"
	}
	return &BackendProvider{client: client, path: uploadPath}
}

func (p *BackendProvider) Name() string { return ProviderBackend }

// Put streams obj as the "file" field; the backend chooses the final name.
func (p *BackendProvider) Put(ctx context.Context, obj Object) (string, error) {
	env, err := p.client.Upload(ctx, p.path, map[string]string{"key": obj.Key}, backend.Part{
		Field:       "file",
		Filename:    obj.Filename,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		Body:        obj.Body,
	}, nil)
	if err != nil {
		return "", err
	}
	return backend.UploadedURL(env)
}

// Policy is a signed OSS post policy issued by the backend.
type Policy struct {
	Host      string
	Dir       string
	AccessID  string
	Policy    string
	Signature string
	Expire    int64
}

// PolicyProvider fetches a post policy from the backend and posts the file
// straight to the bucket.
type PolicyProvider struct {
	client *backend.Client
	path   string
	http   *http.Client
}

// NewPolicyProvider creates a PolicyProvider. The path defaults to
// /manage/oss/policy.
func NewPolicyProvider(client *backend.Client, policyPath string, hc *http.Client) *PolicyProvider {
	if policyPath == "" {
		policyPath = "/manage/oss/policy"
	}
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &PolicyProvider{client: client, path: policyPath, http: hc}
}

func (p *PolicyProvider) Name() string { return ProviderOSSPolicy }

// FetchPolicy asks the backend for a fresh post policy.
func (p *PolicyProvider) FetchPolicy(ctx context.Context) (Policy, error) {
	env, err := p.client.Get(ctx, p.path, nil)
	if err != nil {
		return Policy{}, err
	}
	rec, ok := env.Record("data")
	if !ok {
		return Policy{}, errors.New("policy response has no data")
	}
	pol := Policy{
		Host:      rec.String("host"),
		Dir:       rec.String("dir"),
		AccessID:  rec.String("accessid"),
		Policy:    rec.String("policy"),
		Signature: rec.String("signature"),
	}
	pol.Expire = env.Int("data.expire")
	if pol.Host == "" || pol.Policy == "" || pol.Signature == "" {
		return Policy{}, errors.New("policy response is incomplete")
	}
	return pol, nil
}

// Put posts obj under the policy's directory.
func (p *PolicyProvider) Put(ctx context.Context, obj Object) (string, error) {
	pol, err := p.FetchPolicy(ctx)
	if err != nil {
		return "", err
	}
	if pol.Expire > 0 && time.Unix(pol.Expire, 0).Before(time.Now()) {
		return "", errors.New("upload policy already expired")
	}
	key := path.Join(pol.Dir, obj.Key)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writePolicyForm(mw, pol, key, obj)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	host := strings.TrimRight(pol.Host, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("object storage rejected upload: status %d", resp.StatusCode)
	}
	return host + "/" + key, nil
}

func writePolicyForm(mw *multipart.Writer, pol Policy, key string, obj Object) error {
	fields := [][2]string{
		{"key", key},
		{"policy", pol.Policy},
		{"OSSAccessKeyId", pol.AccessID},
		{"success_action_status", "200"},
		{"signature", pol.Signature},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	// The file must be the last field of an OSS post.
	fw, err := mw.CreateFormFile("file", obj.Filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, obj.Body)
	return err
}

// OSSProvider puts objects with the Aliyun OSS SDK.
type OSSProvider struct {
	bucket *oss.Bucket
	base   string
}

// NewOSSProvider connects to the configured bucket.
func NewOSSProvider(cfg OSSConfig) (*OSSProvider, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, errors.New("oss storage requires endpoint, bucket, access_key_id and access_key_secret")
	}
	var opts []oss.ClientOption
	if cfg.CNAME {
		opts = append(opts, oss.UseCname(true))
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret, opts...)
	if err != nil {
		return nil, fmt.Errorf("create oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open oss bucket %s: %w", cfg.Bucket, err)
	}
	base := cfg.PublicBase
	if base == "" {
		base = virtualHostBase(cfg.Endpoint, cfg.Bucket, cfg.CNAME)
	}
	return &OSSProvider{bucket: bucket, base: strings.TrimRight(base, "/")}, nil
}

func (p *OSSProvider) Name() string { return ProviderOSS }

// Put uploads obj.
func (p *OSSProvider) Put(ctx context.Context, obj Object) (string, error) {
	opts := []oss.Option{oss.WithContext(ctx)}
	if obj.ContentType != "" {
		opts = append(opts, oss.ContentType(obj.ContentType))
	}
	if err := p.bucket.PutObject(obj.Key, obj.Body, opts...); err != nil {
		return "", err
	}
	return p.base + "/" + obj.Key, nil
}

// COSProvider puts objects with the Tencent COS SDK.
type COSProvider struct {
	client *cos.Client
	base   string
}

// NewCOSProvider creates a COS client for the bucket URL. A nil transport
// uses http.DefaultTransport under the signing transport.
func NewCOSProvider(cfg COSConfig, transport http.RoundTripper) (*COSProvider, error) {
	if cfg.BucketURL == "" || cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, errors.New("cos storage requires bucket_url, secret_id and secret_key")
	}
	u, err := url.Parse(cfg.BucketURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid cos bucket_url %q", cfg.BucketURL)
	}
	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Transport: transport,
		},
	})
	base := cfg.PublicBase
	if base == "" {
		base = cfg.BucketURL
	}
	return &COSProvider{client: client, base: strings.TrimRight(base, "/")}, nil
}

func (p *COSProvider) Name() string { return ProviderCOS }

// Put uploads obj.
func (p *COSProvider) Put(ctx context.Context, obj Object) (string, error) {
	var opt *cos.ObjectPutOptions
	if obj.ContentType != "" {
		opt = &cos.ObjectPutOptions{ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{ContentType: obj.ContentType}}
	}
	if _, err := p.client.Object.Put(ctx, obj.Key, obj.Body, opt); err != nil {
		return "", err
	}
	return p.base + "/" + obj.Key, nil
}

// S3Provider puts objects with the AWS SDK.
type S3Provider struct {
	client *s3.Client
	bucket string
	base   string
}

// NewS3Provider loads credentials from cfg. A custom endpoint selects an S3
// compatible store.
func NewS3Provider(ctx context.Context, cfg S3Config) (*S3Provider, error) {
	if cfg.Bucket == "" || cfg.Region == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("s3 storage requires region, bucket, access_key_id and secret_access_key")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	base := cfg.PublicBase
	switch {
	case base != "":
	case cfg.Endpoint != "" && cfg.PathStyle:
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	case cfg.Endpoint != "":
		base = virtualHostBase(cfg.Endpoint, cfg.Bucket, false)
	default:
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return &S3Provider{client: client, bucket: cfg.Bucket, base: strings.TrimRight(base, "/")}, nil
}

func (p *S3Provider) Name() string { return ProviderS3 }

// Put uploads obj. The body is buffered so the request can be signed and
// retried; uploads are bounded by the uploader's size limit.
func (p *S3Provider) Put(ctx context.Context, obj Object) (string, error) {
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if _, err := p.client.PutObject(ctx, input); err != nil {
		return "", err
	}
	return p.base + "/" + obj.Key, nil
}

// virtualHostBase returns scheme://bucket.host for an endpoint, or the
// endpoint itself for a custom domain.
func virtualHostBase(endpoint, bucket string, cname bool) string {
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || cname {
		return strings.TrimRight(endpoint, "/")
	}
	return u.Scheme + "://" + bucket + "." + u.Host
}
