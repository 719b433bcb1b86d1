// Package invalidate issues CloudFront cache invalidations after an upload.
package invalidate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Client is the subset of *cloudfront.Client used here.
type Client interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

type Options struct {
	DistributionIDs []string
	Items           []string
}

func (o Options) Enabled() bool {
	return len(o.DistributionIDs) > 0
}

// NormalizeIDs accepts a single distribution ID or a list of them.
func NormalizeIDs(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if val == "" {
			return nil, nil
		}
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		ids := make([]string, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("distribution ID %d must be a non-empty string, got %T", i, item)
			}
			ids = append(ids, s)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("distribution ID must be a string or a list of strings, got %T", v)
	}
}

type Trigger struct {
	client Client
	logger *zap.Logger
	now    func() time.Time
}

func NewTrigger(client Client, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{client: client, logger: logger, now: time.Now}
}

// Invalidate sends one invalidation per distribution concurrently and fails
// if any of them fails. It returns the number of invalidations created.
func (t *Trigger) Invalidate(ctx context.Context, opts Options) (int, error) {
	if !opts.Enabled() {
		return 0, nil
	}

	items := opts.Items
	if len(items) == 0 {
		items = []string{"/*"}
	}

	stamp := strconv.FormatInt(t.now().UnixNano(), 10)

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range opts.DistributionIDs {
		id := id
		ref := stamp
		if len(opts.DistributionIDs) > 1 {
			ref = stamp + "-" + strconv.Itoa(i)
		}
		g.Go(func() error {
			out, err := t.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
				DistributionId: aws.String(id),
				InvalidationBatch: &types.InvalidationBatch{
					CallerReference: aws.String(ref),
					Paths: &types.Paths{
						Quantity: aws.Int32(int32(len(items))),
						Items:    items,
					},
				},
			})
			if err != nil {
				return fmt.Errorf("failed to invalidate distribution %s: %w", id, err)
			}

			fields := []zap.Field{zap.String("distribution", id), zap.Strings("paths", items)}
			if out != nil && out.Invalidation != nil {
				fields = append(fields, zap.String("invalidation", aws.ToString(out.Invalidation.Id)))
			}
			t.logger.Info("Created CloudFront invalidation", fields...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(opts.DistributionIDs), nil
}
