package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/gallery"
	"github.com/kozaktomas/face-search/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Search web server.

The server offers an upload page, a JSON search API (POST /api/v1/search),
the copied matches under /results/ and Prometheus metrics under /metrics.

With --watch, photos added to the gallery while the server runs are
processed in the background so their embeddings are cached before the
next search.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addSearchFlags(serveCmd)
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("watch", false, "Cache embeddings of new gallery photos in the background")
}

// resolveServeHostPort applies the host and port flags when set.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyFlags(cmd, cfg)
	resolveServeHostPort(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, materializer, err := a.searchService()
	if err != nil {
		return err
	}

	server, err := web.NewServer(cfg, web.Deps{
		Searcher: svc,
		Results:  materializer,
		Cache:    a.cache,
		Embedder: a.embedder,
	})
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "watch") {
		if err := watchGallery(ctx, a); err != nil {
			return err
		}
		fmt.Printf("Watching %s for new photos\n", cfg.Gallery.Root)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Search on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// watchGallery caches embeddings of photos written to the gallery until ctx is done.
func watchGallery(ctx context.Context, a *app) error {
	root, err := gallery.ResolveRoot(a.cfg.Gallery.Root)
	if err != nil {
		return err
	}
	paths, err := a.indexer.Watch(ctx, root, gallery.DefaultDebounce)
	if err != nil {
		return fmt.Errorf("watch gallery: %w", err)
	}

	logger := slog.Default().With("component", "watch")
	go func() {
		for path := range paths {
			summary := a.engine.Warm(ctx, []gallery.Image{gallery.NewImage(root, path)})
			logger.Info("cached new photo",
				"path", path,
				"no_face", summary.NoFace > 0,
				"failed", summary.Failed > 0,
			)
		}
	}()
	return nil
}
