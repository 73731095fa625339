package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lbreton/conduit/internal/jobs"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Start the job queue worker",
	Long:  `Starts a worker that drains the job queue, running ask and orchestrate jobs and publishing their progress.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading configuration: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		svc, err := buildServices(ctx, cfg, log)
		if err != nil {
			fmt.Printf("Error initializing services: %v\n", err)
			os.Exit(1)
		}
		defer svc.close()

		worker := jobs.NewWorker(svc.queue, svc.jobs, svc.runner, svc.metrics, log)
		if err := worker.Run(ctx); err != nil {
			fmt.Printf("Worker error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(workCmd)
}
