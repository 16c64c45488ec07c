// Package cli implements the sigscan command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/sansecio/sigscan/internal/config"
	"github.com/sansecio/sigscan/internal/logging"
	"github.com/sansecio/sigscan/memory"
	"github.com/sansecio/sigscan/scanner"
)

// app is the state shared by all commands of one invocation.
type app struct {
	cfg *config.Config
	log *logging.LoggerCloser
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "sigscan",
		Short: "Locate code and data in executables by byte signature",
		Long: `Sigscan finds byte patterns with wildcards in executable images and
resolves named signatures to addresses, following pointers and relative
offsets with small expressions.`,
		Example: `
# Find a pattern
sigscan scan game.exe "48 8B 05 ?? ?? ?? ?? C3"

# Resolve a signature file
sigscan resolve game.exe signatures.yaml

# Make a unique signature for an address
sigscan make game.exe 0x140001000
  `,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.log != nil {
				return a.log.Close()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Path to sigscan.toml (default: search upwards from the working directory)")
	pf.BoolP("debug", "d", false, "Debug logging")
	pf.IntP("workers", "j", 0, "Scan goroutines (default: one per CPU)")
	pf.String("strategy", "", "Scan strategy: skip, naive or regexp")
	pf.Int("max-results", 0, "Maximum distinct hits per pattern, negative for no limit")
	pf.Int("partition-size", 0, "Chunk size for splitting large regions")
	pf.Uint64("base", 0, "Load address of raw images")
	pf.Int("address-size", 0, "Pointer width in bytes (4 or 8)")
	pf.String("arch", "", "Architecture of raw images: x86, x86_64 or arm64")

	root.AddCommand(
		newScanCmd(a),
		newResolveCmd(a),
		newMakeCmd(a),
		newEvalCmd(a),
		newInfoCmd(a),
		newSchemaCmd(),
	)
	return root
}

// setup loads the configuration and applies flag overrides.
func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	var err error
	if path != "" {
		a.cfg, err = config.Load(path)
	} else {
		a.cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}

	c := a.cfg
	if flags.Changed("workers") {
		c.Scan.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("strategy") {
		c.Scan.Strategy, _ = flags.GetString("strategy")
	}
	if flags.Changed("max-results") {
		c.Scan.MaxResults, _ = flags.GetInt("max-results")
	}
	if flags.Changed("partition-size") {
		c.Scan.PartitionSize, _ = flags.GetInt("partition-size")
	}
	if flags.Changed("base") {
		c.Image.Base, _ = flags.GetUint64("base")
	}
	if flags.Changed("address-size") {
		c.Image.AddressSize, _ = flags.GetInt("address-size")
	}
	if flags.Changed("arch") {
		c.Image.Arch, _ = flags.GetString("arch")
	}
	if debug, _ := flags.GetBool("debug"); debug {
		c.Log.Level = "debug"
	}

	if os.Getenv("SIGSCAN_LOG_TO_FILE") == "1" {
		a.log = logging.NewLogger(c.Log.Level)
	} else {
		a.log = logging.NewLoggerWithWriter(cmd.ErrOrStderr(), c.Log.Level)
	}
	if c.Path != "" {
		a.log.Debug("loaded config", "path", c.Path)
	}
	return nil
}

func (a *app) scanOptions() (scanner.Options, error) {
	return a.cfg.ScanOptions()
}

func (a *app) openImage(path string) (*memory.Image, error) {
	img, err := memory.Open(path, a.cfg.OpenOptions())
	if err != nil {
		return nil, err
	}
	a.log.Debug("opened image", "path", path, "format", img.Format(), "arch", img.Arch(), "regions", len(img.Regions()))
	return img, nil
}

// Execute runs the command line and exits on failure.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func parseAddress(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}
