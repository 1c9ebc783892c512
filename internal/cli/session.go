package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/charterhq/charter/pkg/client"
)

// newClient builds a client from the loaded configuration.
func newClient() (*client.Client, error) {
	cfg := GetConfig()
	if cfg == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}
	opts := []client.ClientOption{client.WithTimeout(60 * time.Second)}
	if cfg.Token != "" {
		opts = append(opts, client.WithToken(cfg.Token))
	}
	return client.New(cfg.GetServerURL(), opts...)
}

// createCmd creates a new browser session
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new browser session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		opts := client.CreateOptions{}
		if v, _ := cmd.Flags().GetString("verification"); v != "" {
			opts.Verification = v
		}
		if cmd.Flags().Changed("headless") {
			headless, _ := cmd.Flags().GetBool("headless")
			opts.Headless = &headless
		}
		id, err := c.CreateSession(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]string{"context_id": id})
		} else {
			okLabel.Printf("Session created: %s\n", id)
		}
		return nil
	},
}

// listCmd lists live sessions on the orchestrator
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		sessions, err := c.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(sessions)
			return nil
		}
		if len(sessions) == 0 {
			fmt.Println("No live sessions")
			return nil
		}
		fmt.Printf("%-38s %-25s %10s %6s %6s\n", "CONTEXT ID", "CREATED", "IDLE MS", "IN USE", "OPS")
		for _, s := range sessions {
			fmt.Printf("%-38s %-25s %10d %6v %6d\n", s.ContextID, s.CreatedAt, s.IdleMs, s.InUse, s.ActiveOps)
		}
		return nil
	},
}

// closeCmd tears down a session
var closeCmd = &cobra.Command{
	Use:   "close <context-id>",
	Short: "Close a session and discard its browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.CloseSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

// releaseCmd marks a session as idle
var releaseCmd = &cobra.Command{
	Use:   "release <context-id>",
	Short: "Release a session so idle cleanup may reclaim it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Release(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

// statusCmd reports server readiness
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator readiness and session count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ready, err := c.Ready(cmd.Context())
		if err != nil {
			return err
		}
		version, err := c.Version(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]any{
				"status":   ready.Status,
				"sessions": ready.Sessions,
				"version":  version.ApiVersion,
			})
		} else {
			okLabel.Printf("Status:   %s\n", ready.Status)
			fmt.Printf("Sessions: %d\n", ready.Sessions)
			fmt.Printf("Server:   %s\n", version.ServerVersion)
		}
		return nil
	},
}

// printResult renders a command result in the selected output format. A
// failed result is reported as an error so the process exits nonzero.
func printResult(res client.Result) error {
	if jsonOutput {
		printJSON(res)
		if !res.Success {
			return ErrAlreadyHandled
		}
		return nil
	}
	if !res.Success {
		return fmt.Errorf("%s: %s", res.Status, res.Message)
	}
	label := res.Status
	if res.Message != "" {
		label = res.Message
	}
	okLabel.Printf("%s\n", label)
	return nil
}

func init() {
	createCmd.Flags().String("verification", "", "Default verification level for the session (none, basic, standard, strict)")
	createCmd.Flags().Bool("headless", true, "Run the browser headless")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(statusCmd)
}
