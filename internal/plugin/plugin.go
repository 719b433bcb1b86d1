// Package plugin runs the post-build pass: list artifacts, rewrite CDN
// references, filter, upload and invalidate.
package plugin

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ca-x/asset-syncer/internal/build"
	"github.com/ca-x/asset-syncer/internal/cdnizer"
	"github.com/ca-x/asset-syncer/internal/files"
	"github.com/ca-x/asset-syncer/internal/invalidate"
	"github.com/ca-x/asset-syncer/internal/progress"
	"github.com/ca-x/asset-syncer/internal/rule"
	"github.com/ca-x/asset-syncer/internal/storage"
	"github.com/ca-x/asset-syncer/internal/upload"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	// Directory is listed instead of the build's assets when set.
	Directory string
	Include   rule.Rule
	Exclude   rule.Rule
	Ignore    []string

	BasePath          string
	BasePathTransform upload.BasePathTransform

	// HTMLFiles are rewrite targets even when the build did not emit them.
	// Relative paths are resolved against the source directory.
	HTMLFiles []string

	Priority    []rule.Rule
	Progress    bool
	Concurrency int
	NewTracker  func() *progress.Tracker

	CDNizer       cdnizer.Options
	UploadOptions upload.Template
	Invalidation  invalidate.Options
}

var _ build.Plugin = (*Plugin)(nil)

// DefaultOptions returns options with progress reporting enabled.
func DefaultOptions() Options {
	return Options{Progress: true}
}

// Report summarises one pass.
type Report struct {
	PassID        string
	Source        string
	Files         int
	Keys          []string
	Invalidations int
	Duration      time.Duration
}

type Plugin struct {
	opts   Options
	conn   *Connection
	logger *zap.Logger

	mu         sync.Mutex
	lastReport *Report
}

func New(opts Options, conn *Connection, logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{opts: opts, conn: conn, logger: logger.Named(Name)}
}

// Apply registers the pass as a build done hook.
func (p *Plugin) Apply(hooks *build.Hooks) {
	hooks.OnDone(Name, p.Run)
}

// LastReport returns the report of the last successful pass, if any.
func (p *Plugin) LastReport() *Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReport
}

// Run executes one pass for a finished build. Failures are recorded on the
// result and returned.
func (p *Plugin) Run(ctx context.Context, result *build.Result) error {
	started := time.Now()
	report := &Report{PassID: uuid.NewString()}
	log := p.logger.With(zap.String("pass", report.PassID))

	if !p.opts.UploadOptions.Has(storage.ParamBucket) {
		return p.fail(log, result, ErrConfiguration, errors.New("upload options must set Bucket"))
	}

	clients, err := p.conn.Connect(ctx)
	if err != nil {
		return p.fail(log, result, ErrConfiguration, err)
	}

	sourceDir, list, err := p.collect(ctx, result)
	if err != nil {
		return p.fail(log, result, ErrListing, err)
	}
	report.Source = sourceDir

	policy := rule.Policy{
		Include: p.opts.Include,
		Exclude: p.opts.Exclude,
		Ignore:  append([]string{files.SystemIgnore}, p.opts.Ignore...),
	}
	filtered, err := rule.Filter(policy, list, func(f files.File) string { return f.Name })
	if err != nil {
		return p.fail(log, result, ErrConfiguration, err)
	}

	htmlFiles := files.Resolve(sourceDir, p.opts.HTMLFiles)
	rewriter := cdnizer.New(p.opts.CDNizer, log)
	candidates := files.Dedupe(htmlFiles, list)
	referenceNames := files.Names(files.Dedupe(htmlFiles, filtered))
	if err := rewriter.Rewrite(ctx, candidates, referenceNames); err != nil {
		return p.fail(log, result, ErrRewrite, err)
	}

	log.Info("Uploading build artifacts",
		zap.String("source", sourceDir),
		zap.Int("listed", len(list)),
		zap.Int("selected", len(filtered)),
		zap.String("target", clients.Uploader.Type()))

	orchestrator := upload.New(clients.Uploader, upload.Options{
		BasePath:          p.opts.BasePath,
		BasePathTransform: p.opts.BasePathTransform,
		Template:          p.opts.UploadOptions,
		Priority:          p.opts.Priority,
		Progress:          p.opts.Progress,
		Concurrency:       p.opts.Concurrency,
		NewTracker:        p.opts.NewTracker,
	}, log)
	keys, err := orchestrator.UploadFiles(ctx, filtered)
	if err != nil {
		return p.fail(log, result, ErrUpload, err)
	}
	report.Files = len(filtered)
	report.Keys = keys

	if p.opts.Invalidation.Enabled() {
		n, err := invalidate.NewTrigger(clients.CDN, log).Invalidate(ctx, p.opts.Invalidation)
		if err != nil {
			return p.fail(log, result, ErrInvalidation, err)
		}
		report.Invalidations = n
	}

	report.Duration = time.Since(started)
	p.mu.Lock()
	p.lastReport = report
	p.mu.Unlock()

	log.Info("Build artifacts synced",
		zap.Int("uploaded", len(keys)),
		zap.Int("invalidations", report.Invalidations),
		zap.Duration("duration", report.Duration))
	return nil
}

// collect returns the source directory and its candidate files: the
// configured directory listed recursively, or the build's emitted assets.
func (p *Plugin) collect(ctx context.Context, result *build.Result) (string, []files.File, error) {
	if p.opts.Directory != "" {
		list, err := files.List(ctx, p.opts.Directory, p.opts.Ignore)
		return p.opts.Directory, list, err
	}
	return result.OutputPath, files.FromAssets(result.OutputPath, result.Assets), nil
}

func (p *Plugin) fail(log *zap.Logger, result *build.Result, kind, err error) error {
	e := &Error{Kind: kind, Err: err}
	result.AddError(e)
	log.Error("Build artifact sync failed", zap.Error(e))
	return e
}
