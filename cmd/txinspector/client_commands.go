package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/txinspector/client"
	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/logsink"
	natspkg "github.com/brojonat/txinspector/service/nats"
	"github.com/brojonat/txinspector/service/wallet"
	"github.com/urfave/cli/v2"
)

func rpcCommands() *cli.Command {
	return &cli.Command{
		Name:  "rpc",
		Usage: "Inspect and change the server's RPC endpoint",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List known endpoints and the current selection",
				Action: func(c *cli.Context) error {
					state, err := newClient(c).RPC(c.Context)
					if err != nil {
						return fmt.Errorf("failed to get rpc state: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(state)
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "\tNAME\tNETWORK\tURL")
					for _, e := range state.Endpoints {
						marker := ""
						if e.URL == state.Current.URL {
							marker = "*"
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, e.Name, e.Network, e.URL)
					}
					w.Flush()

					if state.Busy {
						fmt.Fprintln(os.Stderr, "\nA submission is in progress")
					}
					return nil
				},
			},
			{
				Name:  "current",
				Usage: "Show the current endpoint",
				Action: func(c *cli.Context) error {
					state, err := newClient(c).RPC(c.Context)
					if err != nil {
						return fmt.Errorf("failed to get rpc state: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(state.Current)
					}
					fmt.Printf("%s (%s)\n", state.Current.URL, state.Current.Network)
					return nil
				},
			},
			{
				Name:      "select",
				Usage:     "Select a known endpoint or a custom https:// URL",
				ArgsUsage: "URL",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: endpoint URL")
					}
					e, err := newClient(c).SelectRPC(c.Context, c.Args().First())
					if errors.Is(err, client.ErrConflict) {
						return fmt.Errorf("cannot change RPC endpoint while a transaction is being processed")
					}
					if err != nil {
						return fmt.Errorf("failed to select endpoint: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(e)
					}
					fmt.Printf("✓ Selected %s (%s)\n", e.URL, e.Network)
					return nil
				},
			},
			{
				Name:      "custom",
				Usage:     "Use a custom https:// endpoint",
				ArgsUsage: "URL",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: endpoint URL")
					}
					url := strings.TrimSpace(c.Args().First())
					if err := endpoints.ValidateCustom(url); err != nil {
						return err
					}
					e, err := newClient(c).SelectRPC(c.Context, url)
					if errors.Is(err, client.ErrConflict) {
						return fmt.Errorf("cannot change RPC endpoint while a transaction is being processed")
					}
					if err != nil {
						return fmt.Errorf("failed to select endpoint: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(e)
					}
					fmt.Printf("✓ Using custom endpoint %s (%s)\n", e.URL, e.Network)
					return nil
				},
			},
		},
	}
}

func walletCommands() *cli.Command {
	action := func(call func(c *cli.Context, cl *client.Client) ([]wallet.Info, error)) cli.ActionFunc {
		return func(c *cli.Context) error {
			infos, err := call(c, newClient(c))
			if err != nil {
				return fmt.Errorf("wallet request failed: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(infos)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tNAME\tCONNECTED\tCAN SIGN\tPUBLIC KEY")
			for _, info := range infos {
				marker := ""
				if info.Selected {
					marker = "*"
				}
				publicKey := info.PublicKey
				if publicKey == "" {
					publicKey = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", marker, info.Name, info.Connected, info.CanSign, publicKey)
			}
			w.Flush()
			return nil
		}
	}

	return &cli.Command{
		Name:  "wallet",
		Usage: "Manage the server's wallet session",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List wallet adapters",
				Action: action(func(c *cli.Context, cl *client.Client) ([]wallet.Info, error) {
					return cl.Wallets(c.Context)
				}),
			},
			{
				Name:      "select",
				Usage:     "Select a wallet adapter",
				ArgsUsage: "NAME",
				Action: action(func(c *cli.Context, cl *client.Client) ([]wallet.Info, error) {
					if c.NArg() != 1 {
						return nil, fmt.Errorf("requires exactly one argument: wallet name")
					}
					return cl.SelectWallet(c.Context, c.Args().First())
				}),
			},
			{
				Name:      "connect",
				Usage:     "Connect the selected (or named) wallet adapter",
				ArgsUsage: "[NAME]",
				Action: action(func(c *cli.Context, cl *client.Client) ([]wallet.Info, error) {
					return cl.ConnectWallet(c.Context, c.Args().First())
				}),
			},
			{
				Name:  "disconnect",
				Usage: "Disconnect the selected wallet adapter",
				Action: action(func(c *cli.Context, cl *client.Client) ([]wallet.Info, error) {
					return cl.DisconnectWallet(c.Context)
				}),
			},
		},
	}
}

func logsCommands() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Read and manage the server's session log",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List session log entries",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "level",
						Aliases: []string{"l"},
						Usage:   "Filter by level (info, warn, error, success, debug)",
					},
					&cli.StringSliceFlag{
						Name:  "jq",
						Usage: "Keep entries for which every jq filter is truthy (repeatable)",
					},
				},
				Action: func(c *cli.Context) error {
					codes, err := compileJQ(c.StringSlice("jq"))
					if err != nil {
						return err
					}
					entries, err := newClient(c).Logs(c.Context, c.String("level"))
					if err != nil {
						return fmt.Errorf("failed to list logs: %w", err)
					}
					entries, err = filterJQ(codes, entries)
					if err != nil {
						return err
					}

					if c.Bool("json") {
						return outputJSON(entries)
					}
					for _, e := range entries {
						printEntry(e)
					}
					fmt.Fprintf(os.Stderr, "\nTotal: %d entries\n", len(entries))
					return nil
				},
			},
			{
				Name:  "export",
				Usage: "Download the session log document",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file (defaults to the server's suggested name, - for stdout)",
					},
				},
				Action: func(c *cli.Context) error {
					data, filename, err := newClient(c).ExportLogs(c.Context)
					if err != nil {
						return fmt.Errorf("failed to export logs: %w", err)
					}
					out := c.String("output")
					if out == "-" {
						_, err := os.Stdout.Write(data)
						return err
					}
					if out == "" {
						out = filename
					}
					if err := os.WriteFile(out, data, 0o644); err != nil {
						return fmt.Errorf("failed to write %s: %w", out, err)
					}
					fmt.Printf("✓ Session log written to %s\n", out)
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Drop every session log entry",
				Action: func(c *cli.Context) error {
					if err := newClient(c).ClearLogs(c.Context); err != nil {
						return fmt.Errorf("failed to clear logs: %w", err)
					}
					fmt.Println("✓ Session log cleared")
					return nil
				},
			},
		},
	}
}

func printEntry(e logsink.Entry) {
	fmt.Printf("%s  %-7s %s", e.Timestamp.Format(time.RFC3339Nano), e.Level, e.Message)
	for k, v := range e.Data {
		fmt.Printf(" %s=%v", k, v)
	}
	fmt.Println()
}

func submissionsCommands() *cli.Command {
	return &cli.Command{
		Name:    "submissions",
		Aliases: []string{"subs"},
		Usage:   "Read the server's submission history",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List recorded submissions, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "state",
						Aliases: []string{"s"},
						Usage:   "Filter by outcome (confirmed, failed, timed_out)",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Value:   20,
						Usage:   "Maximum number of submissions to retrieve (1-1000)",
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Number of submissions to skip",
					},
					&cli.StringSliceFlag{
						Name:  "jq",
						Usage: "Keep submissions for which every jq filter is truthy (repeatable)",
					},
				},
				Action: func(c *cli.Context) error {
					codes, err := compileJQ(c.StringSlice("jq"))
					if err != nil {
						return err
					}
					list, err := newClient(c).ListSubmissions(c.Context, c.String("state"), c.Int("limit"), c.Int("offset"))
					if err != nil {
						return fmt.Errorf("failed to list submissions: %w", err)
					}
					subs, err := filterJQ(codes, list.Submissions)
					if err != nil {
						return err
					}

					if c.Bool("json") {
						return outputJSON(subs)
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "SIGNATURE\tSTATE\tERROR\tNETWORK\tATTEMPTS\tFINISHED")
					for _, s := range subs {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
							formatOptional(s.Signature),
							s.State,
							formatOptional(s.ErrorKind),
							s.Network,
							s.Attempts,
							s.FinishedAt.Format(time.RFC3339),
						)
					}
					w.Flush()

					fmt.Fprintf(os.Stderr, "\nTotal: %d submissions\n", len(subs))
					return nil
				},
			},
			{
				Name:      "get",
				Usage:     "Show one recorded submission",
				ArgsUsage: "SIGNATURE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: signature")
					}
					sub, err := newClient(c).GetSubmission(c.Context, c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to get submission: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(sub)
					}

					fmt.Printf("Signature:    %s\n", formatOptional(sub.Signature))
					fmt.Printf("State:        %s\n", sub.State)
					fmt.Printf("Kind:         %s\n", formatOptional(sub.Kind))
					fmt.Printf("Endpoint:     %s (%s)\n", sub.Endpoint, sub.Network)
					fmt.Printf("Attempts:     %d\n", sub.Attempts)
					fmt.Printf("Confirmation: %s\n", formatOptional(sub.ConfirmationStatus))
					if sub.Slot != nil {
						fmt.Printf("Slot:         %d\n", *sub.Slot)
					}
					if sub.ErrorKind != nil {
						fmt.Printf("Error:        %s: %s\n", *sub.ErrorKind, formatOptional(sub.Message))
					}
					fmt.Printf("Explorer:     %s\n", formatOptional(sub.ExplorerURL))
					fmt.Printf("Duplicate:    %t\n", sub.Duplicate)
					fmt.Printf("Started:      %s\n", sub.StartedAt.Format(time.RFC3339))
					fmt.Printf("Finished:     %s\n", sub.FinishedAt.Format(time.RFC3339))
					return nil
				},
			},
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream submission outcomes via SSE (HTTP)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state",
				Aliases: []string{"s"},
				Usage:   "Only stream one outcome (confirmed, failed, timed_out)",
			},
		},
		Action: func(c *cli.Context) error {
			jsonOutput := c.Bool("json")

			// Create context that cancels on interrupt
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Streaming submission outcomes... (Ctrl+C to stop)\n\n")
			}

			return newClient(c).StreamSubmissions(ctx, c.String("state"), func(e *natspkg.SubmissionEvent) error {
				if jsonOutput {
					return outputJSON(e)
				}
				fmt.Printf("[%s] %-9s %s (%s, %s, %d attempts)\n",
					e.FinishedAt.Format(time.RFC3339),
					e.State,
					e.Signature,
					e.Network,
					e.Source,
					e.Attempts,
				)
				return nil
			})
		},
	}
}
