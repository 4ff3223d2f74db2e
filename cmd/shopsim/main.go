// Command shopsim loads a shop configuration and plays, serves or inspects
// campaigns.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configDir string
	dataDir   string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "shopsim",
	Short: "Turn-based food shop simulation kernel",
	Long: `shopsim runs campaigns of a small food shop: daily actions against a
slot budget, a trading step, random and scheduled events with their cascades,
and versioned saves that replay bit for bit.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "configs", "./configs", "config directory")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log sink activity")

	rootCmd.AddCommand(validateCmd, autoplayCmd, serveCmd, inspectCmd, replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(component string) *log.Logger {
	return log.New(os.Stdout, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
