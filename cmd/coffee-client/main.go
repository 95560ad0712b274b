// Command coffee-client is an interactive console for the coffee machine
// simulator. It prints every status frame and sends typed commands.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/coffee-machine/internal/discovery"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		rawURL   string
		discover bool
		format   string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:          "coffee-client",
		Short:        "Interactive websocket client for the coffee machine",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			target := rawURL
			if discover {
				found, err := find(ctx, timeout)
				if err != nil {
					return err
				}
				target = found
				fmt.Fprintf(cmd.ErrOrStderr(), "found %s\n", target)
			}

			dialCtx, cancelDial := context.WithTimeout(ctx, timeout)
			client, err := Dial(dialCtx, target, format)
			cancelDial()
			if err != nil {
				return err
			}
			defer client.Close()

			console, err := NewConsole(client)
			if err != nil {
				return err
			}

			listenErr := make(chan error, 1)
			go func() {
				listenErr <- client.Listen(ctx, console.Stdout())
				cancel()
				console.Close()
			}()
			console.Run(ctx, cancel)

			if err := <-listenErr; err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&rawURL, "url", "u", "ws://localhost:8080/ws", "websocket URL of the machine")
	cmd.Flags().BoolVarP(&discover, "discover", "d", false, "find the machine over mDNS instead of --url")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "wire codec: json, cbor or csv")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "discovery and connect timeout")
	return cmd
}

func find(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	svc, err := discovery.Find(ctx)
	if err != nil {
		return "", err
	}
	return svc.URL(""), nil
}
