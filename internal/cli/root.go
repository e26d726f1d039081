// Package cli implements the cortexviseme command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/normanking/cortexviseme/internal/config"
	"github.com/normanking/cortexviseme/internal/lipsync"
	"github.com/normanking/cortexviseme/internal/logging"
	"github.com/normanking/cortexviseme/internal/viseme"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// app holds global flags and what PersistentPreRunE builds from them.
type app struct {
	configFile   string
	logLevel     string
	modelPath    string
	outputFormat string

	cfg *config.Config
	log *logging.Logger
}

// Execute runs the root command with os.Args.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cortexviseme",
		Short: "Real-time spectral viseme classifier",
		Long: `Train and run the spectral lip-sync classifier that drives the
CortexAvatar mouth.

Each 512-sample block of 44.1 kHz audio is fingerprinted with a Hann-windowed
FFT and compared against up to ten trained mouth-shape models. Models are
stored in a single 10,280 byte file shared with the avatar.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.log != nil {
				return a.log.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "",
		"config file (default is $HOME/.cortexviseme/config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	flags.StringVar(&a.modelPath, "model", "",
		"model file (default is $HOME/.cortexviseme/visemes.bin)")
	flags.StringVarP(&a.outputFormat, "output", "o", outputTable,
		"output format (table, json)")

	root.AddCommand(
		newTrainCommand(a),
		newClassifyCommand(a),
		newInspectCommand(a),
		newClearCommand(a),
		newMonitorCommand(a),
	)
	return root
}

// initialize loads .env, the config file and the logger, then applies flag
// overrides on top of the config.
func (a *app) initialize(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if changed(flags, "model") {
		cfg.Model.Path = a.modelPath
	}
	if changed(flags, "log-level") {
		cfg.Log.Level = a.logLevel
	}
	if a.outputFormat != outputTable && a.outputFormat != outputJSON {
		return fmt.Errorf("unknown output format %q", a.outputFormat)
	}
	a.cfg = cfg

	log, err := logging.New(&logging.Config{
		LogDir:  cfg.Log.Dir,
		Level:   logging.LogLevel(cfg.Log.Level),
		Console: cfg.Log.Console,
		Out:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

func changed(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// newEngine builds an engine from the loaded config. With load set, an
// existing model file is loaded; a missing file is not an error.
func (a *app) newEngine(load bool) (*lipsync.Engine, error) {
	engine, err := lipsync.New(lipsync.Config{
		Options:   a.cfg.ClassifierOptions(),
		Meter:     a.cfg.MeterConfig(),
		ModelPath: a.cfg.Model.Path,
	}, a.log.Component("lipsync"), nil, nil)
	if err != nil {
		return nil, err
	}

	if load {
		if err := engine.Load(""); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return engine, nil
}

// parseSlot accepts a slot number or name.
func parseSlot(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if !viseme.ValidSlot(n) {
			return viseme.NoSlot, fmt.Errorf("%w: %d", viseme.ErrSlotOutOfRange, n)
		}
		return n, nil
	}
	if slot, ok := viseme.ParseSlot(s); ok {
		return slot, nil
	}
	return viseme.NoSlot, fmt.Errorf("unknown slot %q", s)
}
