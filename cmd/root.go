package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alexferrari88/localize-assets/lib"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// defaultInput is the HTML file processed when no argument is given.
const defaultInput = "index.html"

// NewRootCmd creates the localize-assets command with its own option set.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "localize-assets [html-file]",
		Short: "Download a page's remote assets and rewrite it to use local copies",
		Long: `localize-assets downloads the stylesheets, scripts, images and fonts referenced
by an HTML file, including the ones referenced from inside downloaded
stylesheets, into ./assets/<type>/ and rewrites the file in place so it can be
opened offline.

Assets that cannot be fetched are skipped and their references are left as they were.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalize(cmd, args, v)
		},
	}

	registerFlags(cmd.Flags())
	bindConfig(v, cmd.Flags())

	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and exits with status 1 on failure.
// This is called by main.main(). It only needs to happen once.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func runLocalize(cmd *cobra.Command, args []string, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	input := defaultInput
	if len(args) > 0 {
		input = args[0]
	}
	htmlPath := absFrom(cwd, input)
	assetsDir := absFrom(cwd, cfg.AssetsDir)

	fetcherOpts, err := cfg.fetcherOptions()
	if err != nil {
		return err
	}

	opts := lib.Options{
		AssetsDir:      assetsDir,
		Site:           cfg.Site,
		Base:           cfg.Base,
		CDNPath:        cfg.CDNPath,
		FetcherOptions: append(fetcherOpts, lib.WithFetcherLogger(logger)),
		Logger:         logger,
	}
	if cfg.Progress {
		opts.Progress = cmd.ErrOrStderr()
	}

	logger.Debug("localizing document",
		zap.String("html", htmlPath),
		zap.String("assets_dir", assetsDir),
	)

	result, err := lib.LocalizeDocument(cmd.Context(), htmlPath, opts)
	if err != nil {
		return err
	}

	logger.Info("localization finished",
		zap.Int("downloaded", result.Downloaded()),
		zap.Int("failed", len(result.Failed)),
	)
	for _, f := range result.Failed {
		logger.Debug("not localized", zap.String("url", f.URL), zap.Error(f.Err))
	}

	shown, err := filepath.Rel(cwd, assetsDir)
	if err != nil {
		shown = assetsDir
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Completed. Saved assets to", shown)

	return nil
}

func absFrom(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
