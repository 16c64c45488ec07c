package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <image>",
		Short: "Show how an image is mapped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.openImage(args[0])
			if err != nil {
				return err
			}
			digest := img.Digest()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "format:       %s\n", img.Format())
			arch := string(img.Arch())
			if arch == "" {
				arch = "unknown"
			}
			fmt.Fprintf(out, "arch:         %s\n", arch)
			fmt.Fprintf(out, "address size: %d\n", img.AddressSize())
			fmt.Fprintf(out, "blake3:       %s\n", hex.EncodeToString(digest[:]))
			fmt.Fprintf(out, "symbols:      %d\n", len(img.Symbols()))
			fmt.Fprintln(out, "regions:")
			for _, r := range img.Regions() {
				fmt.Fprintf(out, "  %#016x-%#016x %8d bytes\n", r.Addr, r.End(), r.Size)
			}
			return nil
		},
	}
}
