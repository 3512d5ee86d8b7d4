package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/remotelink"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Wait for one controller and print its text messages",
	Long: `serve listens on the configured address and accepts the first peer that
completes the handshake. Further connection attempts are refused. Text messages
(type 2) are printed to stdout and stdin lines are sent back as text.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := cfg.Options()
	if cmd.Flags().Changed("host") {
		opts.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		opts.Port = servePort
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

	if err := session.Serve(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "runServe",
		"address":  session.Channel().Addr(),
	}).Info("Waiting for controller")

	if err := session.WaitConnected(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("waiting for controller: %w", err)
	}
	if fp := session.Channel().PeerFingerprint(); fp != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "peer key fingerprint: %s\n", fp)
	}
	return runLink(ctx, session, cmd.InOrStdin())
}
