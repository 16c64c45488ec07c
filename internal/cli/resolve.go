package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sansecio/sigscan/ast"
	"github.com/sansecio/sigscan/memory"
	"github.com/sansecio/sigscan/parser"
	"github.com/sansecio/sigscan/pipeline"
	"github.com/sansecio/sigscan/task"
)

type resolvedJSON struct {
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Address    string   `json:"address,omitempty"`
	Symbol     string   `json:"symbol,omitempty"`
	Hits       int      `json:"hits"`
	Candidates []string `json:"candidates,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func newResolveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <image> <signatures.yaml>...",
		Short: "Resolve named signatures to addresses",
		Example: `
sigscan resolve game.exe signatures.yaml
sigscan resolve --format json game.exe core.yaml extra.yaml
  `,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q", format)
			}

			var sigs []*ast.Signature
			p := parser.New()
			for _, path := range args[1:] {
				set, err := p.ParseFile(path)
				if err != nil {
					return err
				}
				for _, w := range p.Warnings() {
					a.log.Warn("skipped signature", "file", path, "reason", w)
				}
				sigs = append(sigs, set.Signatures...)
			}
			if len(sigs) == 0 {
				return errors.New("no signatures to resolve")
			}

			img, err := a.openImage(args[0])
			if err != nil {
				return err
			}
			opts, err := a.scanOptions()
			if err != nil {
				return err
			}

			var results []*pipeline.Result
			t := task.Start(cmd.Context(), "resolve", func(ctx context.Context, t *task.Task) error {
				t.SetProgress(fmt.Sprintf("resolving %d signatures", len(sigs)))
				r := pipeline.New(img, pipeline.Options{Scan: opts, Logger: a.log.Logger})
				start := time.Now()
				results = r.ResolveAll(ctx, sigs)
				a.log.Debug("resolve finished", "signatures", len(sigs), "elapsed", time.Since(start))
				return ctx.Err()
			})
			if err := a.wait(t); err != nil {
				return err
			}

			failed := 0
			for _, res := range results {
				if res.Err != nil {
					failed++
				}
			}
			if err := writeResults(cmd.OutOrStdout(), format, img, results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d signatures failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", "text", "Output format: text or json")
	return cmd
}

func writeResults(w io.Writer, format string, img *memory.Image, results []*pipeline.Result) error {
	if format == "json" {
		out := make([]resolvedJSON, 0, len(results))
		for _, res := range results {
			j := resolvedJSON{
				Name:     res.Signature.Name,
				Category: res.Signature.Category.String(),
				Hits:     res.Hits,
			}
			if res.Err != nil {
				j.Error = res.Err.Error()
				var amb *pipeline.AmbiguousError
				if errors.As(res.Err, &amb) {
					for _, c := range amb.Candidates {
						j.Candidates = append(j.Candidates, fmt.Sprintf("%#x", c))
					}
				}
			} else {
				j.Address = fmt.Sprintf("%#x", res.Address)
				j.Symbol = symbolName(img, res.Address)
			}
			out = append(out, j)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(w, "%-32s %-8s error: %v\n", res.Signature.Name, res.Signature.Category, res.Err)
			continue
		}
		line := fmt.Sprintf("%-32s %-8s %#x", res.Signature.Name, res.Signature.Category, res.Address)
		if name := symbolName(img, res.Address); name != "" {
			line += "  " + name
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// symbolTable finds the symbol containing an address. *memory.Image
// implements it.
type symbolTable interface {
	SymbolAt(addr uint64) (memory.Symbol, bool)
}

// symbolName describes addr relative to the enclosing symbol, if any.
func symbolName(syms symbolTable, addr uint64) string {
	sym, ok := syms.SymbolAt(addr)
	if !ok {
		return ""
	}
	if addr == sym.Addr {
		return sym.Demangled
	}
	return fmt.Sprintf("%s+%#x", sym.Demangled, addr-sym.Addr)
}
