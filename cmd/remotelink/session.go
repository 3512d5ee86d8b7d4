package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/opd-ai/remotelink"
	"github.com/opd-ai/remotelink/interfaces"
	"github.com/opd-ai/remotelink/transport"
	"github.com/sirupsen/logrus"
)

// splitHostPort parses HOST:PORT.
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return host, port, nil
}

// messagePrinter logs every message and writes text messages to out.
func messagePrinter(out io.Writer) transport.MessageHandler {
	return func(msgType uint32, payload []byte) {
		logrus.WithFields(logrus.Fields{
			"function": "messagePrinter",
			"type":     msgType,
			"size":     len(payload),
		}).Debug("Message received")

		if msgType == remotelink.MessageTypeText {
			fmt.Fprintf(out, "%s\n", payload)
		}
	}
}

// sendLines sends each non-empty line of in as a text message. It stops at
// EOF, when ctx ends or when done closes.
func sendLines(ctx context.Context, sender interfaces.MessageSender, done <-chan struct{}, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if line == "" {
				continue
			}
			if err := sender.Send(remotelink.MessageTypeText, []byte(line)); err != nil {
				return err
			}
		}
	}
}

// printIdentity writes the local fingerprint so the peer can pin it.
func printIdentity(out io.Writer, s *remotelink.Session) {
	if fp, err := s.Fingerprint(); err == nil {
		fmt.Fprintf(out, "local key fingerprint: %s\n", fp)
	}
}

// runLink pipes stdin to the connected session and keeps the link up until
// the peer leaves or ctx is cancelled. Stdin reaching EOF does not end the
// link. It returns the channel's close cause, if any.
func runLink(ctx context.Context, s *remotelink.Session, in io.Reader) error {
	ch := s.Channel()
	if ch == nil {
		return transport.ErrNotConnected
	}
	if err := sendLines(ctx, s, ch.Done(), in); err != nil {
		return err
	}
	select {
	case <-ch.Done():
		return peerGone(ch)
	case <-ctx.Done():
		return nil
	}
}

// peerGone maps a channel close cause to a CLI result. A clean EOF from the
// peer is not an error.
func peerGone(ch *transport.Channel) error {
	err := ch.Err()
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, transport.ErrChannelClosed) {
		logrus.Info("Peer disconnected")
		return nil
	}
	return err
}
