// Package upload pushes build artifacts to a storage target, building keys
// and per-file request parameters, optionally in priority tiers.
package upload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"sync"

	"github.com/ca-x/asset-syncer/internal/files"
	"github.com/ca-x/asset-syncer/internal/progress"
	"github.com/ca-x/asset-syncer/internal/rule"
	"github.com/ca-x/asset-syncer/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 16

type Options struct {
	BasePath          string
	BasePathTransform BasePathTransform
	Template          Template
	// Priority tiers are uploaded one after another, files matching no tier
	// first. Progress is not reported in this mode.
	Priority    []rule.Rule
	Progress    bool
	Concurrency int
	// NewTracker creates the progress tracker for a batch. Defaults to a
	// tracker drawing on stderr.
	NewTracker func() *progress.Tracker
}

type Orchestrator struct {
	uploader storage.Uploader
	opts     Options
	logger   *zap.Logger
}

func New(uploader storage.Uploader, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BasePathTransform == nil {
		opts.BasePathTransform = Identity
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.NewTracker == nil {
		opts.NewTracker = func() *progress.Tracker {
			return progress.NewTracker(os.Stderr, logger)
		}
	}
	return &Orchestrator{uploader: uploader, opts: opts, logger: logger}
}

// ResolveBasePath applies the transform and normalises the trailing separator.
func (o *Orchestrator) ResolveBasePath(ctx context.Context) (string, error) {
	basePath, err := o.opts.BasePathTransform(ctx, o.opts.BasePath)
	if err != nil {
		return "", fmt.Errorf("failed to transform base path %q: %w", o.opts.BasePath, err)
	}
	return AddTrailingSep(basePath), nil
}

// UploadFiles uploads every file once and returns the keys written. The
// first failed upload fails the batch and cancels the uploads still running.
func (o *Orchestrator) UploadFiles(ctx context.Context, list []files.File) ([]string, error) {
	list = files.Dedupe(list)

	basePath, err := o.ResolveBasePath(ctx)
	if err != nil {
		return nil, err
	}

	if len(o.opts.Priority) == 0 {
		var tracker *progress.Tracker
		if o.opts.Progress && len(list) > 0 {
			tracker = o.opts.NewTracker()
		}
		keys, err := o.uploadGroup(ctx, basePath, list, tracker)
		if tracker != nil {
			tracker.Finish()
		}
		return keys, err
	}

	groups, err := Partition(list, o.opts.Priority)
	if err != nil {
		return nil, fmt.Errorf("failed to partition files by priority: %w", err)
	}

	var keys []string
	for i, group := range groups {
		if len(group) == 0 {
			continue
		}
		o.logger.Debug("Uploading priority tier",
			zap.Int("tier", i),
			zap.Int("files", len(group)))

		groupKeys, err := o.uploadGroup(ctx, basePath, group, nil)
		keys = append(keys, groupKeys...)
		if err != nil {
			return keys, err
		}
	}
	return keys, nil
}

func (o *Orchestrator) uploadGroup(ctx context.Context, basePath string, group []files.File, tracker *progress.Tracker) ([]string, error) {
	if tracker != nil {
		for _, f := range group {
			size, err := f.Size()
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", f.Path, err)
			}
			tracker.AddTotal(size)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)

	var (
		mu   sync.Mutex
		keys = make([]string, 0, len(group))
	)
	for _, f := range group {
		f := f
		g.Go(func() error {
			key, err := o.uploadFile(ctx, basePath, f, tracker)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", f.Name, err)
			}

			mu.Lock()
			keys = append(keys, key)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return keys, err
}

func (o *Orchestrator) uploadFile(ctx context.Context, basePath string, f files.File, tracker *progress.Tracker) (string, error) {
	params, err := o.Params(f)
	if err != nil {
		return "", err
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}

	var body io.ReadSeeker = file
	if tracker != nil {
		body = progress.NewReader(file, tracker)
	}

	obj := &storage.Object{
		Key:           Key(basePath, f.Name),
		Body:          body,
		ContentLength: info.Size(),
		Params:        params,
	}
	if err := o.uploader.Put(ctx, obj); err != nil {
		return "", err
	}

	o.logger.Debug("Uploaded file",
		zap.String("file", f.Name),
		zap.String("key", obj.Key),
		zap.String("bucket", obj.Bucket()),
		zap.Int64("size", info.Size()))
	return obj.Key, nil
}

// Params resolves the request parameters for one file: the template values,
// a Content-Type inferred from the extension when none is set, and the
// default ACL when none is set.
func (o *Orchestrator) Params(f files.File) (map[string]string, error) {
	params, err := o.opts.Template.Resolve(f.Name, f.Path)
	if err != nil {
		return nil, err
	}

	if _, ok := params[storage.ParamContentType]; !ok {
		if ct := mime.TypeByExtension(path.Ext(f.Name)); ct != "" {
			params[storage.ParamContentType] = ct
		}
	}
	if _, ok := params[storage.ParamACL]; !ok {
		params[storage.ParamACL] = storage.DefaultACL
	}
	return params, nil
}
