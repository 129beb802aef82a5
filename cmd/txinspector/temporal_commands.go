package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/settings"
	"github.com/brojonat/txinspector/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return tc, nil
}

func startWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a durable confirmation watch for a signature",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "endpoint",
				Aliases:  []string{"e"},
				Usage:    "RPC endpoint the transaction was sent through",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "max-attempts",
				Value: temporal.DefaultWatchAttempts,
				Usage: "Status polls before giving up",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Value: temporal.DefaultWatchPollInterval,
				Usage: "Delay between status polls",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			signature := c.Args().First()
			if _, err := solanago.SignatureFromBase58(signature); err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			endpoint := c.String("endpoint")
			registry := endpoints.NewRegistry(settings.NewMemoryStore(), nil, nil)

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			workflowID, err := tc.StartWatch(c.Context, temporal.WatchSignatureInput{
				Signature:    signature,
				Endpoint:     endpoint,
				Network:      string(registry.NetworkFor(endpoint)),
				MaxAttempts:  c.Int("max-attempts"),
				PollInterval: c.Duration("poll-interval"),
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"workflow_id": workflowID})
			}
			fmt.Printf("✓ Watch started: %s\n", workflowID)
			return nil
		},
	}
}

func watchResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for a confirmation watch to finish",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   10 * time.Minute,
				Usage:   "How long to wait for the watch",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			result, err := tc.WatchResult(ctx, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(result)
			}
			fmt.Printf("Signature:    %s\n", result.Signature)
			fmt.Printf("State:        %s\n", result.State)
			fmt.Printf("Attempts:     %d\n", result.Attempts)
			if result.ConfirmationStatus != "" {
				fmt.Printf("Confirmation: %s\n", result.ConfirmationStatus)
				fmt.Printf("Slot:         %d\n", result.Slot)
			}
			if result.Error != nil {
				fmt.Printf("Error:        %s: %s\n", result.ErrorKind, *result.Error)
			}
			return nil
		},
	}
}
