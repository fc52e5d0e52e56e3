package commands

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heitortanoue/irhit/internal/printer"
	"github.com/heitortanoue/irhit/pkg/payload"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode an uplink payload",
	Long: `Decode a 23-byte uplink payload given as hex (spaces and colons are
ignored) and print it as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := decodeHex(args[0])
		if err != nil {
			return printer.Error("Cannot decode payload", err.Error())
		}
		out, err := json.MarshalIndent(u, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func decodeHex(s string) (payload.Uplink, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return payload.Uplink{}, fmt.Errorf("invalid hex: %w", err)
	}
	return payload.Decode(data)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "irhit %s (commit: %s, built: %s)\n", version, commit, date)
	},
}
