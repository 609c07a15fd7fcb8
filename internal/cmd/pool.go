package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	errwrap "github.com/keywheel/keywheel/internal/errors"
	"github.com/keywheel/keywheel/internal/output"
)

var (
	poolOutput string
	poolOut    string
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show the configured credential pool",
	Long: `Show the credential pool as the server would load it, after env overrides,
pool.file and default limits are applied. Keys are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(poolOutput)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid configuration")
		}

		rendered, err := output.FormatPool(format, output.NewPoolEntries(cfg.Pool.EngineCredentials()))
		if err != nil {
			return err
		}

		sink, err := openSink(poolOut)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.Flags().StringVar(&poolOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	poolCmd.Flags().StringVar(&poolOut, "out", "", "Write output to a file (default stdout)")
}
