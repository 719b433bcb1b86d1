package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const DefaultRegion = "us-east-1"

type S3Config struct {
	Name            string `mapstructure:"name"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Region          string `mapstructure:"region"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// Validate checks the client options. Credentials may be left empty, in
// which case the SDK's default chain (environment, shared files, roles) is
// used.
func (c S3Config) Validate() error {
	if c.AccessKeyID != "" && c.SecretAccessKey == "" {
		return fmt.Errorf("secret access key is required when access key ID is set")
	}
	if c.SecretAccessKey != "" && c.AccessKeyID == "" {
		return fmt.Errorf("access key ID is required when secret access key is set")
	}
	return nil
}

// S3ClientInterface is the subset of *s3.Client used for uploads.
type S3ClientInterface interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Provider struct {
	name   string
	client S3ClientInterface
}

// AWSConfig loads the shared SDK configuration for the storage and CDN
// clients.
func AWSConfig(ctx context.Context, c S3Config) (aws.Config, error) {
	if err := c.Validate(); err != nil {
		return aws.Config{}, fmt.Errorf("invalid S3 config: %w", err)
	}

	region := c.Region
	if region == "" {
		region = DefaultRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if c.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKeyID,
			c.SecretAccessKey,
			c.SessionToken,
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// NewS3Provider creates an S3 uploader. A custom endpoint switches to path
// style addressing, as S3-compatible services expect.
func NewS3Provider(cfg aws.Config, c S3Config) *S3Provider {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
		if c.ForcePathStyle {
			o.UsePathStyle = true
		}
	})
	return NewS3ProviderWithClient(c.Name, client)
}

func NewS3ProviderWithClient(name string, client S3ClientInterface) *S3Provider {
	if name == "" {
		name = "s3"
	}
	return &S3Provider{name: name, client: client}
}

func (p *S3Provider) Name() string {
	return p.name
}

func (p *S3Provider) Type() string {
	return "s3"
}

func (p *S3Provider) Put(ctx context.Context, obj *Object) error {
	input, err := PutObjectInput(obj)
	if err != nil {
		return err
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", obj.Key, err)
	}
	return nil
}

// PutObjectInput maps an Object onto the S3 request.
func PutObjectInput(obj *Object) (*s3.PutObjectInput, error) {
	if obj.Bucket() == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(obj.Bucket()),
		Key:    aws.String(obj.Key),
		Body:   obj.Body,
	}
	if obj.ContentLength > 0 {
		input.ContentLength = aws.Int64(obj.ContentLength)
	}

	for name, value := range obj.Params {
		if strings.HasPrefix(name, MetadataPrefix) {
			if input.Metadata == nil {
				input.Metadata = make(map[string]string)
			}
			input.Metadata[strings.TrimPrefix(name, MetadataPrefix)] = value
			continue
		}

		switch name {
		case ParamBucket:
		case ParamACL:
			input.ACL = types.ObjectCannedACL(value)
		case ParamContentType:
			input.ContentType = aws.String(value)
		case ParamCacheControl:
			input.CacheControl = aws.String(value)
		case ParamContentDisposition:
			input.ContentDisposition = aws.String(value)
		case ParamContentEncoding:
			input.ContentEncoding = aws.String(value)
		case ParamContentLanguage:
			input.ContentLanguage = aws.String(value)
		case ParamStorageClass:
			input.StorageClass = types.StorageClass(value)
		case ParamServerSideEncryption:
			input.ServerSideEncryption = types.ServerSideEncryption(value)
		case ParamSSEKMSKeyID:
			input.SSEKMSKeyId = aws.String(value)
		case ParamWebsiteRedirectLocation:
			input.WebsiteRedirectLocation = aws.String(value)
		case ParamTagging:
			input.Tagging = aws.String(value)
		case ParamExpires:
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("invalid Expires %q: %w", value, err)
			}
			input.Expires = aws.Time(t)
		default:
			return nil, fmt.Errorf("unsupported upload parameter %q", name)
		}
	}

	return input, nil
}
