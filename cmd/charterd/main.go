package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charterhq/charter/internal/common/logx"
)

const DefaultConfigFile = "/etc/charter/charterd.conf"

var (
	configFile string
	stdioMode  bool
)

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)

var rootCmd = &cobra.Command{
	Use:   "charterd [flags]",
	Short: "Charter browser session orchestrator",
	Long: `charterd manages a pool of browser sessions and executes verified
browser actions against them. Commands arrive over HTTP, websocket, or
stdin, and every action resolves into a structured result.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	logx.InitLogger()
	rootCmd.PersistentFlags().StringVar(&configFile, "config", DefaultConfigFile, "path to the config file")
	rootCmd.Flags().BoolVar(&stdioMode, "stdio", false, "serve the command protocol on stdin/stdout instead of HTTP")
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newTokenCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		errorLabel.Fprintln(os.Stderr, "charterd: "+err.Error())
		os.Exit(1)
	}
}
