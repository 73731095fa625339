package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lbreton/conduit/internal/jobs"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Inspect and reset the job queues",
}

var queuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show queue depths",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		ctx := context.Background()
		svc, err := buildServices(ctx, cfg, log)
		if err != nil {
			fmt.Printf("Error initializing services: %v\n", err)
			os.Exit(1)
		}
		defer svc.close()

		pending, err := svc.queue.Length(ctx)
		if err != nil {
			fmt.Printf("Error reading queue %s: %v\n", cfg.QueueName, err)
			os.Exit(1)
		}
		poison, err := svc.queue.PoisonLength(ctx)
		if err != nil {
			fmt.Printf("Error reading poison queue: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: %d message(s)\n", cfg.QueueName, pending)
		fmt.Printf("%s%s: %d message(s)\n", cfg.QueueName, jobs.PoisonSuffix, poison)
	},
}

var queuesClearCmd = &cobra.Command{
	Use:   "clear [queue...]",
	Short: "Empty job queues",
	Long: `Empties the named queues, or the configured job queue when no names are
given. Use --poison to also empty the matching poison queues, or --all for
both at once. Clearing an already empty queue succeeds.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		withPoison, _ := cmd.Flags().GetBool("poison")
		if all, _ := cmd.Flags().GetBool("all"); all {
			withPoison = true
		}

		ctx := context.Background()
		svc, err := buildServices(ctx, cfg, log)
		if err != nil {
			fmt.Printf("Error initializing services: %v\n", err)
			os.Exit(1)
		}
		defer svc.close()

		names := args
		if len(names) == 0 {
			names = []string{cfg.QueueName}
		}
		for _, name := range names {
			q := jobs.NewQueue(svc.redis, name, jobs.WithQueueLogger(log))
			n, err := q.Clear(ctx)
			if err != nil {
				fmt.Printf("Error clearing %s: %v\n", name, err)
				os.Exit(1)
			}
			if n == 0 {
				fmt.Printf("%s: already empty\n", name)
			} else {
				fmt.Printf("%s: removed %d message(s)\n", name, n)
			}
			if withPoison {
				p, err := q.ClearPoison(ctx)
				if err != nil {
					fmt.Printf("Error clearing %s%s: %v\n", name, jobs.PoisonSuffix, err)
					os.Exit(1)
				}
				if p == 0 {
					fmt.Printf("%s%s: already empty\n", name, jobs.PoisonSuffix)
				} else {
					fmt.Printf("%s%s: removed %d message(s)\n", name, jobs.PoisonSuffix, p)
				}
			}
		}
	},
}

func init() {
	queuesClearCmd.Flags().Bool("poison", false, "Also clear the matching poison queues")
	queuesClearCmd.Flags().Bool("all", false, "Clear the pending and poison queues together")
	queuesCmd.AddCommand(queuesListCmd)
	queuesCmd.AddCommand(queuesClearCmd)
	rootCmd.AddCommand(queuesCmd)
}
