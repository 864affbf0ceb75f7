package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	"umod-repack/internal/api"
	"umod-repack/internal/archive"
	"umod-repack/internal/config"
	"umod-repack/internal/database"
	"umod-repack/internal/persist"
	"umod-repack/internal/processor"
	"umod-repack/internal/repack"
	"umod-repack/internal/websocket"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload server and the submission processor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg, err := config.GetConfigFromEnvironment()
	if err != nil {
		return err
	}
	if err := config.EnsureDirs(cfg); err != nil {
		return err
	}

	db, err := database.New(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		return err
	}
	log.Printf("[INIT] Database initialized at %s", cfg.DatabasePath())

	records, err := persist.NewFileStore(cfg.JobsPath())
	if err != nil {
		return err
	}

	pipeline := repack.New(archive.New(), repack.UmodDecoder{}, cfg.TempPath())
	proc := processor.New(pipeline, persist.Multi{records, db})

	wsManager := websocket.New(proc, db)
	proc.OnUpdate(wsManager.Broadcast)

	procCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(procCtx)

	apiServer := api.NewServer(proc, db, wsManager, cfg.UploadPath(), cfg.AllowedOrigin())
	srv := &http.Server{
		Addr:    cfg.Address(),
		Handler: apiServer.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INIT] Server starting on http://%s", cfg.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Printf("[SHUTDOWN] Signal received, stopping")
	case err = <-errCh:
		err = errors.Wrap(err, "error serving HTTP")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Printf("[ERROR] HTTP shutdown: %v", serr)
	}

	// the worker finishes the submission it holds before returning
	cancel()
	proc.Wait()
	log.Printf("[SHUTDOWN] Stopped")
	return err
}
