package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/engramdev/engram/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	if err := rt.scheduler.Start(schedCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer rt.scheduler.Stop()

	srv := server.New(rt.db, rt.router, VersionString())
	addr := rt.cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "engram serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", rt.db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
