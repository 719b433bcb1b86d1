package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/ca-x/asset-syncer/internal/invalidate"
	"github.com/ca-x/asset-syncer/internal/storage"
)

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Clients are the remote handles used by a pass.
type Clients struct {
	Uploader storage.Uploader
	CDN      invalidate.Client
}

type Connector func(ctx context.Context) (Clients, error)

// Connection creates the clients once and hands out the same handles for
// every later pass. A failed attempt leaves it disconnected.
type Connection struct {
	mu      sync.Mutex
	state   State
	clients Clients
	connect Connector
}

func NewConnection(connect Connector) *Connection {
	return &Connection{connect: connect}
}

func (c *Connection) Connect(ctx context.Context) (Clients, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Connected {
		return c.clients, nil
	}

	clients, err := c.connect(ctx)
	if err != nil {
		return Clients{}, err
	}
	c.clients = clients
	c.state = Connected
	return clients, nil
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StorageType selects the upload target.
type StorageType string

const (
	StorageS3     StorageType = "s3"
	StorageWebDAV StorageType = "webdav"
)

// AWSConnector builds the storage uploader and the CloudFront client from a
// shared SDK configuration.
func AWSConnector(storageType StorageType, s3cfg storage.S3Config, davCfg storage.WebDAVConfig) Connector {
	return func(ctx context.Context) (Clients, error) {
		awsCfg, err := storage.AWSConfig(ctx, s3cfg)
		if err != nil {
			return Clients{}, err
		}

		clients := Clients{CDN: cloudfront.NewFromConfig(awsCfg)}

		switch storageType {
		case "", StorageS3:
			clients.Uploader = storage.NewS3Provider(awsCfg, s3cfg)
		case StorageWebDAV:
			dav, err := storage.NewWebDAVProvider(davCfg)
			if err != nil {
				return Clients{}, err
			}
			clients.Uploader = dav
		default:
			return Clients{}, fmt.Errorf("unsupported storage type: %s", storageType)
		}
		return clients, nil
	}
}
