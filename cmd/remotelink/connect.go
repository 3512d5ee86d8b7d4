package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/remotelink"
	"github.com/spf13/cobra"
)

var (
	connectRetries int
	connectBackoff time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect HOST:PORT",
	Short: "Connect to a serving host and send stdin lines as text",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
}

func init() {
	connectCmd.Flags().IntVar(&connectRetries, "retries", 0, "connection attempts (overrides config)")
	connectCmd.Flags().DurationVar(&connectBackoff, "retry-backoff", 0, "initial delay between attempts (overrides config)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	host, port, err := splitHostPort(args[0])
	if err != nil {
		return err
	}

	opts := cfg.Options()
	if cmd.Flags().Changed("retries") {
		opts.Retry.Attempts = connectRetries
	}
	if cmd.Flags().Changed("retry-backoff") {
		opts.Retry.Initial = connectBackoff
	}

	session, err := remotelink.New(opts)
	if err != nil {
		return err
	}
	defer session.Close()
	session.OnReceive(messagePrinter(cmd.OutOrStdout()))
	printIdentity(cmd.ErrOrStderr(), session)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Connect(ctx, host, port); err != nil {
		return fmt.Errorf("connect %s: %w", args[0], err)
	}
	if fp := session.Channel().PeerFingerprint(); fp != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "peer key fingerprint: %s\n", fp)
	}
	return runLink(ctx, session, cmd.InOrStdin())
}
