package main

import (
	"context"
	"errors"
	"os"

	"github.com/ca-x/asset-syncer/internal/build"
	"github.com/ca-x/asset-syncer/internal/config"
	"github.com/ca-x/asset-syncer/internal/logger"
	"github.com/ca-x/asset-syncer/internal/notification"
	"github.com/ca-x/asset-syncer/internal/plugin"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type flags struct {
	configFile string
	manifest   string
	outputPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "assetsync",
		Short: "Upload build artifacts to S3 and invalidate CloudFront",
		Long: "assetsync runs after a build: it rewrites CDN references in HTML and CSS,\n" +
			"uploads the selected artifacts and invalidates the configured distributions.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "config file (default: assetsync.yaml in . or ./config)")
	cmd.Flags().StringVarP(&f.manifest, "manifest", "m", "", "build manifest with outputPath and assets")
	cmd.Flags().StringVarP(&f.outputPath, "output-path", "o", "", "build output directory, listed recursively")
	cmd.MarkFlagsMutuallyExclusive("manifest", "output-path")

	return cmd
}

func run(ctx context.Context, f flags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var passErr error

	app := fx.New(
		options(f),
		fx.Invoke(func(lc fx.Lifecycle, f flags, cfg *config.Config, hooks *build.Hooks, notifier *notification.Service, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					result, err := loadResult(ctx, f, cfg)
					if err != nil {
						passErr = err
						return nil
					}

					log.Info("Asset syncer starting", zap.String("output", result.OutputPath))
					if err := hooks.Done(ctx, result); err != nil {
						passErr = err
						if nerr := notifier.SendPassReport(result.OutputPath, result.Errors()); nerr != nil {
							log.Warn("Failed to send failure report", zap.Error(nerr))
						}
					}
					return nil
				},
				OnStop: func(ctx context.Context) error {
					logger.Sync()
					return nil
				},
			})
		}),
	)

	if err := app.Start(ctx); err != nil {
		return err
	}
	if err := app.Stop(context.Background()); err != nil {
		return errors.Join(passErr, err)
	}
	return passErr
}

// options provides the components of one pass.
func options(f flags) fx.Option {
	return fx.Options(
		fx.Supply(f),
		fx.Provide(
			func(f flags) (*config.Config, error) {
				cfg, err := config.Load(f.configFile)
				if err != nil {
					return nil, err
				}
				return cfg, cfg.Validate()
			},
			func(cfg *config.Config) *zap.Logger {
				logger.InitLogger(cfg.Logging.Level, cfg.Logging.File)
				return logger.GetLogger()
			},
			func(cfg *config.Config, log *zap.Logger) *notification.Service {
				return notification.NewService(&cfg.Notification, log)
			},
			func(cfg *config.Config) *plugin.Connection {
				return plugin.NewConnection(cfg.Connector())
			},
			func(cfg *config.Config, conn *plugin.Connection, log *zap.Logger) (*plugin.Plugin, error) {
				opts, err := cfg.PluginOptions()
				if err != nil {
					return nil, err
				}
				return plugin.New(opts, conn, log), nil
			},
			fx.Annotate(
				func(p *plugin.Plugin) build.Plugin { return p },
				fx.ResultTags(`group:"plugins"`),
			),
			fx.Annotate(
				func(plugins []build.Plugin) *build.Hooks { return build.NewHooks(plugins...) },
				fx.ParamTags(`group:"plugins"`),
			),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
	)
}

// loadResult describes the finished build: a manifest, an output directory,
// or the configured directory as a last resort.
func loadResult(ctx context.Context, f flags, cfg *config.Config) (*build.Result, error) {
	switch {
	case f.manifest != "":
		return build.LoadManifest(f.manifest)
	case f.outputPath != "":
		return build.FromDirectory(ctx, f.outputPath)
	case cfg.Directory != "":
		return &build.Result{OutputPath: cfg.Directory}, nil
	default:
		return nil, errors.New("one of --manifest, --output-path or directory in config is required")
	}
}
