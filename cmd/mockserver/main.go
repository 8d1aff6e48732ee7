// Package main provides the speculare-mockserver binary, a fake ingest
// server for running the agent locally.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/speculare-cloud/speculare-client/internal/mockserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "speculare-mockserver",
		Usage: "Run a fake Speculare ingest server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "HTTP server address", Value: ":3000"},
			&cli.StringFlag{Name: "token", Usage: "Required api token (empty accepts any)"},
			&cli.BoolFlag{Name: "require-registration", Usage: "Answer 412 until the host PATCHes /sso"},
			&cli.IntFlag{Name: "fail-first", Usage: "Answer 503 to the first N ingest requests"},
			&cli.IntFlag{Name: "latency-ms", Usage: "Delay every ingest response"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			config := mockserver.DefaultConfig()
			config.Addr = cmd.String("addr")
			config.Token = cmd.String("token")
			config.SetBehavior(&mockserver.BehaviorProfile{
				RequireRegistration: cmd.Bool("require-registration"),
				FailFirst:           int(cmd.Int("fail-first")),
				LatencyMs:           int(cmd.Int("latency-ms")),
			})

			server := mockserver.New(config)
			if err := server.Start(); err != nil {
				return fmt.Errorf("starting mock server: %w", err)
			}

			fmt.Printf("Mock ingest server listening on %s\n", server.Addr())
			fmt.Printf("api_url: %s\n", server.APIURL())
			fmt.Printf("sso_url: %s\n", server.SSOURL())
			fmt.Println("Press Ctrl+C to stop")

			<-ctx.Done()

			fmt.Println("\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Stop(shutdownCtx)
			fmt.Printf("Mock server stopped after %d requests\n", server.Requests())
			return nil
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
