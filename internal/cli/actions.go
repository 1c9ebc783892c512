package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// navigateCmd loads a URL in a session
var navigateCmd = &cobra.Command{
	Use:   "navigate <context-id> <url>",
	Short: "Navigate a session to a URL",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Navigate(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

// clickCmd clicks an element
var clickCmd = &cobra.Command{
	Use:   "click <context-id> <selector>",
	Short: "Click the element matching a selector",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Click(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

// typeCmd enters text into an element
var typeCmd = &cobra.Command{
	Use:   "type <context-id> <selector> <text>",
	Short: "Type text into the element matching a selector",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Type(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

// queryCmd inspects an element without touching it
var queryCmd = &cobra.Command{
	Use:   "query <context-id> <selector>",
	Short: "Report the state of the element matching a selector",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Query(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
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
		printJSON(res.Value)
		return nil
	},
}

// evaluateCmd runs a script in the page
var evaluateCmd = &cobra.Command{
	Use:   "evaluate <context-id> <script>",
	Short: "Run a script in the session's page and print its value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Evaluate(cmd.Context(), args[0], args[1], true)
		if err != nil {
			return err
		}
		if !res.Success {
			if jsonOutput {
				printJSON(res)
				return ErrAlreadyHandled
			}
			return fmt.Errorf("%s: %s", res.Status, res.Message)
		}
		value, _ := res.Value.(string)
		if parsed := gjson.Parse(value); parsed.IsObject() || parsed.IsArray() {
			fmt.Println(parsed.Get("@pretty").String())
		} else {
			fmt.Println(value)
		}
		return nil
	},
}

// captureCmd takes a screenshot and writes it to a file
var captureCmd = &cobra.Command{
	Use:   "capture <context-id> <output-file>",
	Short: "Capture a screenshot of the session's page",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		mode, _ := cmd.Flags().GetString("mode")
		data, res, err := c.Capture(cmd.Context(), args[0], mode)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%s: %s", res.Status, res.Message)
		}
		if err := os.WriteFile(args[1], data, 0644); err != nil {
			return fmt.Errorf("writing screenshot: %w", err)
		}
		if jsonOutput {
			printJSON(map[string]any{"file": args[1], "bytes": len(data)})
		} else {
			okLabel.Printf("Screenshot written: %s (%d bytes)\n", args[1], len(data))
		}
		return nil
	},
}

// waitCmd blocks until the page settles
var waitCmd = &cobra.Command{
	Use:   "wait <context-id>",
	Short: "Wait until the session's page reaches a quiet state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		res, err := c.WaitStable(cmd.Context(), args[0], timeout)
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

func init() {
	captureCmd.Flags().String("mode", "viewport", "Capture mode (viewport, fullpage)")
	waitCmd.Flags().Duration("timeout", 0, "Maximum time to wait (0 uses the server default)")

	rootCmd.AddCommand(navigateCmd)
	rootCmd.AddCommand(clickCmd)
	rootCmd.AddCommand(typeCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(waitCmd)
}
