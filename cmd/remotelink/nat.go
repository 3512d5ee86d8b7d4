package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/remotelink"
	"github.com/opd-ai/remotelink/transport"
	"github.com/spf13/cobra"
)

var (
	natLocalPort  int
	natSTUNServer string
)

var natCmd = &cobra.Command{
	Use:   "nat",
	Short: "NAT discovery and direct peer connection",
}

var natDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Classify the local NAT with STUN and print the public endpoint",
	Args:  cobra.NoArgs,
	RunE:  runNATDiscover,
}

var natPunchCmd = &cobra.Command{
	Use:   "punch PEER_IP:PORT",
	Short: "Connect directly to a peer's public endpoint from the local port",
	Long: `punch first classifies the local NAT. Only cone NATs are attempted; the
peer must already be serving on the given public endpoint. After the handshake
stdin lines are sent as text.`,
	Args: cobra.ExactArgs(1),
	RunE: runNATPunch,
}

func init() {
	natCmd.PersistentFlags().IntVar(&natLocalPort, "local-port", 0, "local port used for STUN and the direct connection (overrides config)")
	natDiscoverCmd.Flags().StringVar(&natSTUNServer, "stun", "", "STUN server host:port (overrides config)")

	natCmd.AddCommand(natDiscoverCmd)
	natCmd.AddCommand(natPunchCmd)
}

// natOptions applies the nat flags on top of the loaded config.
func natOptions(cmd *cobra.Command) *remotelink.Options {
	opts := cfg.Options()
	if cmd.Flags().Changed("local-port") {
		opts.NAT.LocalPort = natLocalPort
	}
	if f := cmd.Flags().Lookup("stun"); f != nil && f.Changed {
		opts.NAT.STUNServer = natSTUNServer
	}
	return opts
}

func runNATDiscover(cmd *cobra.Command, args []string) error {
	opts := natOptions(cmd)
	session, err := remotelink.New(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info, err := session.DiscoverNAT(ctx, opts.NAT.LocalPort)
	if info != nil {
		printNATInfo(cmd, info)
	}
	var natErr *transport.NATError
	if errors.As(err, &natErr) && errors.Is(err, transport.ErrNATUnsupported) {
		fmt.Fprintf(cmd.OutOrStdout(), "direct connection: not possible (%s)\n", natErr.Type)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "direct connection: possible")
	return nil
}

func printNATInfo(cmd *cobra.Command, info *transport.NATInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "nat type:    %s\n", info.Type)
	fmt.Fprintf(out, "local addr:  %s:%d\n", info.LocalIP, info.LocalPort)
	if info.PublicIP != nil {
		fmt.Fprintf(out, "public addr: %s\n", info.PublicAddr())
	}
}

func runNATPunch(cmd *cobra.Command, args []string) error {
	peerIP, peerPort, err := splitHostPort(args[0])
	if err != nil {
		return err
	}

	opts := natOptions(cmd)
	session, err := remotelink.New(opts)
	if err != nil {
		return err
	}
	defer session.Close()
	session.OnReceive(messagePrinter(cmd.OutOrStdout()))
	printIdentity(cmd.ErrOrStderr(), session)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.ConnectP2P(ctx, peerIP, peerPort, opts.NAT.LocalPort); err != nil {
		return fmt.Errorf("direct connect %s: %w", args[0], err)
	}
	return runLink(ctx, session, cmd.InOrStdin())
}
