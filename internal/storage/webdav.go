package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/studio-b12/gowebdav"
)

type WebDAVConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func (c WebDAVConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}
	if c.Username == "" && c.Password != "" {
		return fmt.Errorf("username is required when password is set")
	}
	return nil
}

// WebDAVClientInterface is the subset of *gowebdav.Client used for uploads.
type WebDAVClientInterface interface {
	WriteStream(path string, stream io.Reader, mode os.FileMode) error
}

// WebDAVProvider writes objects to <bucket>/<key> below the server root.
// Only the bucket is honoured; S3 request parameters are ignored.
type WebDAVProvider struct {
	name   string
	client WebDAVClientInterface
}

func NewWebDAVProvider(config WebDAVConfig) (*WebDAVProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WebDAV config: %w", err)
	}

	client := gowebdav.NewClient(config.URL, config.Username, config.Password)

	return NewWebDAVProviderWithClient(config.Name, client), nil
}

func NewWebDAVProviderWithClient(name string, client WebDAVClientInterface) *WebDAVProvider {
	if name == "" {
		name = "webdav"
	}
	return &WebDAVProvider{name: name, client: client}
}

func (p *WebDAVProvider) Name() string {
	return p.name
}

func (p *WebDAVProvider) Type() string {
	return "webdav"
}

func (p *WebDAVProvider) Put(ctx context.Context, obj *Object) error {
	if obj.Bucket() == "" {
		return fmt.Errorf("bucket is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := path.Join("/", obj.Bucket(), obj.Key)
	if err := p.client.WriteStream(target, obj.Body, 0644); err != nil {
		return fmt.Errorf("failed to upload %s to WebDAV: %w", obj.Key, err)
	}

	return nil
}
