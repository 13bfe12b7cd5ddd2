package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vellum-cms/vellum/internal/config"
	"github.com/vellum-cms/vellum/internal/notify"
	"github.com/vellum-cms/vellum/internal/preview"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the preview server with live reload",
	Long: `Start the preview HTTP server. Items are assembled on demand at
/item/<id>[/<template-id>] and connected browsers reload automatically
when the repository changes on disk.

Examples:
  vellum serve
  vellum serve --port 9000 --repository ./content`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8085, "port to serve on")
	serveCmd.Flags().String("host", "localhost", "host to bind to")
	serveCmd.Flags().Bool("no-watch", false, "disable the repository file watcher")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	noWatch, _ := cmd.Flags().GetBool("no-watch")
	if !noWatch {
		watcher, err := notify.NewRepositoryWatcher(cfg.Repository.Root, eng.notifier, eng.logger)
		if err != nil {
			return fmt.Errorf("starting repository watcher: %w", err)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	server := preview.New(cfg, eng.service, eng.notifier, eng.logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return server.Start(ctx)
}
