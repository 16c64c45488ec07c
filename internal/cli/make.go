package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sansecio/sigscan/sigmaker"
)

func newMakeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "make <image> <address>",
		Short: "Generate a unique signature for an address",
		Example: `
sigscan make game.exe 0x140012340
sigscan make --min 8 --arch arm64 --base 0x100000000 dump.bin 0x100004a10
  `,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[1])
			if err != nil {
				return err
			}
			img, err := a.openImage(args[0])
			if err != nil {
				return err
			}
			scan, err := a.scanOptions()
			if err != nil {
				return err
			}
			minLen, _ := cmd.Flags().GetInt("min")
			maxLen, _ := cmd.Flags().GetInt("max")

			res, err := sigmaker.Generate(cmd.Context(), img, addr, sigmaker.Options{
				MinLength: minLen,
				MaxLength: maxLen,
				Scan:      scan,
			})
			if err != nil {
				return err
			}
			a.log.Debug("generated signature", "addr", fmt.Sprintf("%#x", addr), "instructions", res.Instructions, "length", res.Pattern.Len())
			if name := symbolName(img, addr); name != "" {
				a.log.Info("symbol", "name", name)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Pattern)
			return nil
		},
	}
	cmd.Flags().Int("min", sigmaker.DefaultMinLength, "Minimum pattern length in bytes")
	cmd.Flags().Int("max", sigmaker.DefaultMaxLength, "Maximum pattern length in bytes")
	return cmd
}
