// Package cli implements the headless meeting peer: joining rooms over the
// signaling hub and browsing the room directory.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwrk-planet/signal-service/pkg/logger"

	"github.com/spf13/cobra"
)

var Version = "dev"

func NewRootCmd() *cobra.Command {
	var (
		opts     Options
		logLevel string
	)

	root := &cobra.Command{
		Use:           "peer",
		Short:         "Headless meeting peer for the signaling service",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.Init(logger.Config{
				Service: "signal-peer",
				Version: Version,
				Level:   logger.ParseLevel(logLevel),
				Backend: logger.BackendStd,
				Output:  cmd.ErrOrStderr(),
			})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.Server, "server", "", "signaling WebSocket URL (env SIGNAL_URL)")
	pf.StringVar(&opts.HTTP, "http", "", "directory REST base URL (env SIGNAL_HTTP)")
	pf.StringVar(&opts.GRPC, "grpc", "", "directory gRPC address, preferred over REST when set (env SIGNAL_GRPC)")
	pf.StringVar(&opts.STUN, "stun", "", `STUN server URL or "none" (env STUN_SERVER)`)
	pf.StringVar(&opts.Codec, "codec", "", "hub codec: json or msgpack (env SIGNAL_CODEC)")
	pf.StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")

	root.AddCommand(
		newJoinCmd(&opts),
		newRoomsCmd(&opts),
		newWhoCmd(&opts),
		newNewRoomCmd(&opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		PrintError(root.ErrOrStderr(), err.Error())
		return 1
	}
	return 0
}
