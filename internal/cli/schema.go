package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sansecio/sigscan/parser"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "schema",
		Short:  "Generate JSON schema for signature files",
		Long:   "Generate the JSON schema that signature YAML files follow",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bts, err := parser.Schema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bts))
			return nil
		},
	}
}
