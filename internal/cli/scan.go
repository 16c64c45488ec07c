package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sansecio/sigscan/pattern"
	"github.com/sansecio/sigscan/scanner"
	"github.com/sansecio/sigscan/task"
)

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <image> <pattern>",
		Short: "Print every address where a pattern matches",
		Example: `
sigscan scan game.exe "E8 ?? ?? ?? ?? 48 8B D8"
sigscan scan --strategy regexp dump.bin "{ 4C 8D 05 ?? ?? ?? ?? }"
  `,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pat, err := pattern.Parse(args[1])
			if err != nil {
				return err
			}
			img, err := a.openImage(args[0])
			if err != nil {
				return err
			}
			opts, err := a.scanOptions()
			if err != nil {
				return err
			}

			var (
				res     *scanner.Result
				elapsed time.Duration
			)
			t := task.Start(cmd.Context(), "scan", func(ctx context.Context, t *task.Task) error {
				opts.Progress = func(hits int) {
					t.SetProgress(fmt.Sprintf("%d hits", hits))
				}
				start := time.Now()
				var err error
				res, err = scanner.ScanAll(ctx, img, pat, opts)
				elapsed = time.Since(start)
				return err
			})
			if err := a.wait(t); err != nil {
				return err
			}

			writeScanReport(cmd.OutOrStdout(), img, pat, res, opts.MaxResults, elapsed)
			if res.Truncated {
				a.log.Warn("results truncated", "max", opts.MaxResults)
			}
			if len(res.Addresses) == 0 {
				return fmt.Errorf("pattern %s not found", pat)
			}
			return nil
		},
	}
}

// writeScanReport prints a summary of the scan followed by one line per
// hit, annotated with the enclosing symbol when there is one.
func writeScanReport(w io.Writer, syms symbolTable, pat *pattern.Pattern, res *scanner.Result, limit int, elapsed time.Duration) {
	fmt.Fprintf(w, "Found %d results for %q in %d ms:\n", len(res.Addresses), pat.String(), elapsed.Milliseconds())
	fmt.Fprintf(w, "Pattern: Length %d, \"% X\", \"% X\"\n", pat.Len(), pat.Bytes(), pat.Mask())
	if res.Truncated {
		fmt.Fprintf(w, "Too many results, only showing first %d.\n", limit)
	}
	fmt.Fprintln(w)
	for _, addr := range res.Addresses {
		if name := symbolName(syms, addr); name != "" {
			fmt.Fprintf(w, "%#x (in %s)\n", addr, name)
			continue
		}
		fmt.Fprintf(w, "%#x\n", addr)
	}
}

// wait blocks until t finishes, logging its progress while it runs.
func (a *app) wait(t *task.Task) error {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-t.Done():
			return t.Wait()
		case <-tick.C:
			a.log.Info(t.Name(), "progress", t.Progress())
		}
	}
}
