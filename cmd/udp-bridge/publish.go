package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"udp-topic-bridge/internal/envelope"
)

type publishOptions struct {
	addr  string
	topic string
	typ   string
	data  string
	wait  time.Duration
}

func publishCmd() *cobra.Command {
	opts := publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish [data]",
		Short: "Send one publish envelope to a running bridge",
		Long: `Send one publish envelope to a running bridge. With --wait the command
keeps the socket open and prints every envelope the bridge sends back
until the wait elapses.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.data = args[0]
			}
			return publish(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "127.0.0.1:9090", "Bridge UDP address")
	cmd.Flags().StringVarP(&opts.topic, "topic", "t", "/chatter", "Envelope topic")
	cmd.Flags().StringVar(&opts.typ, "type", envelope.TypeString, "Envelope message type")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "Message data (or pass as argument)")
	cmd.Flags().DurationVarP(&opts.wait, "wait", "w", 0, "How long to print replies after sending")

	return cmd
}

// publish sends one envelope and, when opts.wait is set, prints replies
// received on the same socket until the wait elapses or ctx is done.
func publish(ctx context.Context, out io.Writer, opts publishOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := envelope.Encode(opts.topic, opts.typ, opts.data)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	raddr, err := net.ResolveUDPAddr("udp", opts.addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", opts.addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if opts.wait <= 0 {
		return nil
	}

	deadline := time.Now().Add(opts.wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, 65535)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		env, err := envelope.Decode(buf[:n])
		if err != nil {
			fmt.Fprintf(out, "! %v: %q\n", err, buf[:n])
			continue
		}
		fmt.Fprintf(out, "%s [%s] %s\n", env.Topic, env.Type, env.Payload.Data)
	}
}
