package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/inspector"
	"github.com/brojonat/txinspector/service/logsink"
	"github.com/brojonat/txinspector/service/settings"
	"github.com/brojonat/txinspector/service/solana"
	"github.com/brojonat/txinspector/service/submission"
	"github.com/brojonat/txinspector/service/wallet"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
)

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Decode, simulate, sign, send and confirm a transaction",
		ArgsUsage: "[BASE64_TRANSACTION | -]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "solana-keygen keypair file used to sign",
				EnvVars: []string{"WALLET_KEYPAIR_PATH"},
			},
			&cli.StringFlag{
				Name:    "rpc",
				Usage:   "RPC endpoint for this run (defaults to the saved selection)",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "settings-path",
				Usage:   "Settings file holding the saved RPC selection",
				EnvVars: []string{"SETTINGS_PATH"},
			},
			&cli.IntFlag{
				Name:  "max-attempts",
				Value: 30,
				Usage: "Confirmation polls before giving up",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Value: 2 * time.Second,
				Usage: "Delay between confirmation polls",
			},
			&cli.StringFlag{
				Name:  "export-logs",
				Usage: "Write the session log to this file after the run",
			},
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Submit through the server instead of locally",
			},
		},
		Action: func(c *cli.Context) error {
			input, err := readTransaction(c, os.Stdin)
			if err != nil {
				return err
			}
			jsonOutput := c.Bool("json")

			// Create context that cancels on interrupt
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var res *submission.Result
			if c.Bool("remote") {
				res, err = newClient(c).Submit(ctx, input)
				if err != nil {
					return fmt.Errorf("failed to submit: %w", err)
				}
			} else {
				res, err = submitLocal(ctx, c, input, jsonOutput)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				if err := outputJSON(res); err != nil {
					return err
				}
			} else {
				printResult(os.Stdout, res)
			}
			return exitForResult(res)
		},
	}
}

func submitLocal(ctx context.Context, c *cli.Context, input string, jsonOutput bool) (*submission.Result, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))

	keypairPath := c.String("keypair")
	if keypairPath == "" {
		return nil, fmt.Errorf("keypair is required (set WALLET_KEYPAIR_PATH or use --keypair)")
	}
	if rpcURL := c.String("rpc"); rpcURL != "" {
		if err := endpoints.ValidateCustom(rpcURL); err != nil {
			return nil, err
		}
	}

	adapter, err := wallet.LoadKeypairAdapter("keypair", keypairPath)
	if err != nil {
		return nil, err
	}
	session := wallet.NewSession(logger)
	session.Register(adapter)
	if err := session.Connect(ctx); err != nil {
		return nil, err
	}

	path := c.String("settings-path")
	if path == "" {
		path = settings.DefaultPath()
	}
	store, err := settings.OpenBoltStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	logs := logsink.New(logsink.DefaultCapacity, nil)
	cfg := inspector.Config{
		Registry:     endpoints.NewRegistry(store, nil, logger),
		Session:      session,
		Logs:         logs,
		Override:     c.String("rpc"),
		MaxAttempts:  c.Int("max-attempts"),
		PollInterval: c.Duration("poll-interval"),
		Logger:       logger,
	}

	if !jsonOutput && isatty.IsTerminal(os.Stderr.Fd()) {
		progress := newProgress(os.Stderr, cfg.MaxAttempts)
		defer progress.Finish()
		cfg.OnStateChange = progress.State
		cfg.OnPoll = progress.Poll
	}

	res, err := inspector.New(cfg).Submit(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to submit: %w", err)
	}

	if out := c.String("export-logs"); out != "" {
		data, err := logs.Export()
		if err != nil {
			return nil, fmt.Errorf("failed to export logs: %w", err)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write logs: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Session log written to %s\n", out)
	}
	return res, nil
}

// progress renders workflow stages and confirmation polls on a terminal.
type progress struct {
	bar *progressbar.ProgressBar
}

func newProgress(w io.Writer, maxAttempts int) *progress {
	return &progress{
		bar: progressbar.NewOptions(maxAttempts,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(string(submission.StateIdle)),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		),
	}
}

func (p *progress) State(s submission.State) {
	p.bar.Describe(string(s))
}

func (p *progress) Poll(attempt, maxAttempts int, verdict submission.Verdict) {
	p.bar.Describe(fmt.Sprintf("%s (%s)", submission.StateConfirming, verdict))
	p.bar.Set(attempt)
}

func (p *progress) Finish() {
	p.bar.Finish()
}

// exitForResult maps a terminal state onto the process exit code.
func exitForResult(res *submission.Result) error {
	switch res.State {
	case submission.StateConfirmed:
		return nil
	case submission.StateTimedOut:
		return cli.Exit("", 2)
	default:
		return cli.Exit("", 1)
	}
}

func printResult(w io.Writer, res *submission.Result) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	switch res.State {
	case submission.StateConfirmed:
		fmt.Fprintln(w, "✓ Transaction Confirmed")
	case submission.StateTimedOut:
		fmt.Fprintln(w, "… Confirmation Timed Out")
	default:
		fmt.Fprintln(w, "✗ Transaction Failed")
	}
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "State:       %s\n", res.State)
	if res.Kind != "" {
		fmt.Fprintf(w, "Kind:        %s\n", res.Kind)
	}
	fmt.Fprintf(w, "Endpoint:    %s (%s)\n", res.Endpoint, res.Network)
	if res.Simulation != nil {
		fmt.Fprintf(w, "Compute:     %d units\n", res.Simulation.UnitsConsumed)
	}
	if res.Signature != "" {
		fmt.Fprintf(w, "Signature:   %s\n", res.Signature)
		fmt.Fprintf(w, "Explorer:    %s\n", res.ExplorerURL)
		fmt.Fprintf(w, "Attempts:    %d\n", res.Attempts)
	}
	if res.Status != nil {
		fmt.Fprintf(w, "Slot:        %d\n", res.Status.Slot)
		fmt.Fprintf(w, "Status:      %s\n", res.Status.ConfirmationStatus)
	}
	if res.Duplicate {
		fmt.Fprintln(w, "Duplicate:   this signature was submitted before")
	}
	if res.ErrorKind != "" {
		fmt.Fprintf(w, "Error:       %s: %s\n", res.ErrorKind, res.Message)
	}
	fmt.Fprintf(w, "Duration:    %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Summarize a transaction without touching the network",
		ArgsUsage: "[BASE64_TRANSACTION | -]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Decode through the server instead of locally",
			},
		},
		Action: func(c *cli.Context) error {
			input, err := readTransaction(c, os.Stdin)
			if err != nil {
				return err
			}

			var summary solana.Summary
			if c.Bool("remote") {
				s, err := newClient(c).Decode(c.Context, input)
				if err != nil {
					return fmt.Errorf("failed to decode: %w", err)
				}
				summary = *s
			} else {
				decoded, err := solana.NewDecoder(nil).DecodeBase64(input)
				if err != nil {
					return fmt.Errorf("failed to decode: %w", err)
				}
				summary = solana.Summarize(decoded)
			}

			if c.Bool("json") {
				return outputJSON(summary)
			}
			printSummary(os.Stdout, summary)
			return nil
		},
	}
}

func printSummary(w io.Writer, s solana.Summary) {
	fmt.Fprintf(w, "Kind:             %s\n", s.Kind)
	fmt.Fprintf(w, "Fee Payer:        %s\n", s.FeePayer)
	fmt.Fprintf(w, "Signatures:       %d/%d signed\n", s.SignedCount, s.RequiredSigners)
	fmt.Fprintf(w, "Recent Blockhash: %s\n", s.RecentBlockhash)
	fmt.Fprintf(w, "Account Keys:     %d\n", s.AccountKeys)
	if s.AddressTableLookups > 0 {
		fmt.Fprintf(w, "Table Lookups:    %d\n", s.AddressTableLookups)
	}
	fmt.Fprintf(w, "Instructions:     %d\n", len(s.Instructions))
	for i, inst := range s.Instructions {
		label := inst.Program
		if inst.Type != "" {
			label += "." + inst.Type
		}
		fmt.Fprintf(w, "  [%d] %s (%s)\n", i, label, inst.ProgramID)
		if inst.Amount != nil {
			fmt.Fprintf(w, "      amount: %d\n", *inst.Amount)
		}
		if inst.Mint != nil {
			fmt.Fprintf(w, "      mint:   %s\n", *inst.Mint)
		}
		if inst.Memo != nil {
			fmt.Fprintf(w, "      memo:   %s\n", *inst.Memo)
		}
	}
}
