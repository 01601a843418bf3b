// Command pivtool is a CLI front-end over the piv package, in the vein of
// the other per-tool commands in this repository: cobra for the command
// tree, slog for diagnostics, go-pretty for tabular output.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ebfe/scard"
	"github.com/spf13/cobra"

	"github.com/barnettlynn/pivcard/internal/config"
	"github.com/barnettlynn/pivcard/pkg/piv"
)

var (
	version = "0.1.0"

	flagReader     string
	flagVerbose    bool
	flagLogFormat  string
	flagConfigPath string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "pivtool",
	Short:   "PIV smartcard management tool",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: level}
		if flagLogFormat == "json" {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
		} else {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		}

		if flagConfigPath != "" {
			loaded, err := config.Load(flagConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		} else {
			cfg = &config.Config{}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagReader, "reader", "r", "", "reader name substring (default: first reader, or the config's default_reader)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "", "path to pivtool config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newPCSCContext establishes a fresh PC/SC context; callers are responsible
// for releasing it.
func newPCSCContext() (*scard.Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}
	return ctx, nil
}

// selectReader resolves the --reader flag (or the config's default_reader)
// against the readers PC/SC currently reports, falling back to the sole
// reader if exactly one is present.
func selectReader(ctx *scard.Context) (string, error) {
	readers, err := piv.ListReaders(ctx)
	if err != nil {
		return "", fmt.Errorf("list readers: %w", err)
	}
	if len(readers) == 0 {
		return "", fmt.Errorf("no smartcard readers found")
	}

	want := flagReader
	if want == "" && cfg != nil {
		want = cfg.DefaultReader
	}
	if want == "" {
		if len(readers) == 1 {
			return readers[0], nil
		}
		return "", fmt.Errorf("multiple readers found, pass -r/--reader to select one: %v", readers)
	}
	for _, r := range readers {
		if r == want || strings.Contains(strings.ToLower(r), strings.ToLower(want)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("no reader matching %q among: %v", want, readers)
}
