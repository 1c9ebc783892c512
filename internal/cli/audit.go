package cli

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/charterhq/charter/internal/orchestrator/audit"
)

// auditCmd groups audit trail operations. These work on local files and do
// not need a server connection.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify and manage audit trails",
}

// auditVerifyCmd checks a trail's hash chain and signatures
var auditVerifyCmd = &cobra.Command{
	Use:   "verify <trail-file>",
	Short: "Verify the integrity of an audit trail",
	Long: `Verify the integrity of an audit trail file. Every entry's hash, chain
linkage, and Ed25519 signature is checked against the orchestrator's public
key. The key comes from --key, which accepts either the orchestrator's
runtime.json or a file holding the raw or base64-encoded public key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPath, _ := cmd.Flags().GetString("key")
		if keyPath == "" {
			return fmt.Errorf("--key is required")
		}
		pubKey, err := loadPublicKey(keyPath)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("unable to open trail file: %w", err)
		}
		defer f.Close()

		if err := audit.Verify(f, pubKey); err != nil {
			if jsonOutput {
				printJSON(map[string]any{"valid": false, "error": err.Error()})
				return ErrAlreadyHandled
			}
			return fmt.Errorf("trail verification failed: %w", err)
		}
		if jsonOutput {
			printJSON(map[string]any{"valid": true})
		} else {
			okLabel.Printf("Trail verified: %s\n", args[0])
		}
		return nil
	},
}

// auditRestoreCmd unpacks an archived trail
var auditRestoreCmd = &cobra.Command{
	Use:   "restore <archive-file> <output-file>",
	Short: "Restore an archived audit trail to its original form",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		encoded, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("unable to read archive: %w", err)
		}
		if err := audit.DecodeAndDecompress(strings.TrimSpace(string(encoded)), args[1]); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		if jsonOutput {
			printJSON(map[string]string{"file": args[1]})
		} else {
			okLabel.Printf("Trail restored: %s\n", args[1])
		}
		return nil
	},
}

// loadPublicKey reads an Ed25519 public key from a runtime.json, a raw key
// file, or a base64-encoded key file.
func loadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read key file: %w", err)
	}

	if encoded := gjson.GetBytes(raw, "log_signing_key.public_key"); encoded.Exists() {
		key, err := base64.StdEncoding.DecodeString(encoded.String())
		if err != nil {
			return nil, fmt.Errorf("invalid public key in runtime config: %w", err)
		}
		return key, nil
	}

	if len(raw) == ed25519.PublicKeySize {
		return raw, nil
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key file is not a runtime config, raw key, or base64 key")
	}
	return key, nil
}

func init() {
	auditVerifyCmd.Flags().String("key", "", "Path to the orchestrator's runtime.json or public key file")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditRestoreCmd)
	rootCmd.AddCommand(auditCmd)
}
