package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lbreton/conduit/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Starts the Conduit HTTP API, exposing the ask, orchestrate, job status and conversation memory endpoints.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			cfg.ListenAddr = addr
		}

		ctx := context.Background()
		svc, err := buildServices(ctx, cfg, log)
		if err != nil {
			fmt.Printf("Error initializing services: %v\n", err)
			os.Exit(1)
		}
		defer svc.close()

		api := httpapi.New(cfg, svc.runner, svc.queue, svc.jobs, svc.memory, svc.metrics, log)
		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Info("server started", "addr", srv.Addr, "queue", cfg.QueueName)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			log.Info("shutdown started", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				log.Error("graceful shutdown did not complete", "error", err)
				if err := srv.Close(); err != nil {
					log.Error("failed to close server", "error", err)
				}
			}
			log.Info("server stopped")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (overrides configuration)")
}
