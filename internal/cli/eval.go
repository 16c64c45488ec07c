package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sansecio/sigscan/expr"
)

func newEvalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Compile and evaluate an address expression",
		Long: `Compile an expression and evaluate it. With --image, memory reads
inside the expression are served from the image; --at binds $ to an address.`,
		Example: `
sigscan eval "(1 + 2) * 3"
sigscan eval --image game.exe --at 0x140001000 "[$ + 3].r + 4"
sigscan eval --postfix --disasm "$ 3 + [sd] $ + 7 +"
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postfix, _ := cmd.Flags().GetBool("postfix")
			disasm, _ := cmd.Flags().GetBool("disasm")
			at, _ := cmd.Flags().GetString("at")
			image, _ := cmd.Flags().GetString("image")

			dialect := expr.Infix
			if postfix {
				dialect = expr.Postfix
			}
			prog, err := expr.Compile(args[0], dialect)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if disasm {
				fmt.Fprint(out, prog)
			}

			var env expr.Env
			if image != "" {
				img, err := a.openImage(image)
				if err != nil {
					return err
				}
				env.ReadInteger = img.ReadInteger
			}
			if at != "" {
				here, err := parseAddress(at)
				if err != nil {
					return err
				}
				env = env.At(here)
			}

			v, err := expr.Eval(prog, env)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%#x\n", v)
			return nil
		},
	}
	cmd.Flags().Bool("postfix", false, "Parse the expression in postfix form")
	cmd.Flags().Bool("disasm", false, "Print the compiled program")
	cmd.Flags().String("at", "", "Address bound to $")
	cmd.Flags().String("image", "", "Image to read memory from")
	return cmd
}
