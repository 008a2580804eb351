// Command max runs the Max federation runtime (§4.9): the daemon command
// hosts a GlobalMax tree behind a Unix socket, and the host command is
// the hidden entry point deployer.Subprocess re-invokes (via --role) to
// run a single workspace or installation node out of process (§6).
// Grounded on cmd/bd's cobra root command plus its signal-aware rootCtx
// (main.go), generalized from beads' fixed single binary into a
// multi-role binary addressed by --role instead of subcommand alone.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	projectRoot string

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "max",
	Short: "Run and query the Max federation runtime",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project", ".", "project root (holds max.json and .max/)")
	rootCmd.AddCommand(daemonCmd, hostCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "max:", err)
		os.Exit(1)
	}
}
