package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/roster-ingest/cmd/roster-ingest/ui"
	"github.com/spherical/roster-ingest/internal/config"
	"github.com/spherical/roster-ingest/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "roster-ingest",
	Short: "Turn distribution list PDFs into student records",
	Long: `roster-ingest reads distribution list PDFs, recovers the embedded student
portraits, pairs them with the roster table rows, and rebuilds the student
record store together with its CSV and workbook exports.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitUI(noColor, verbose)

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      cfg.Observability.LogFormat,
			Output:      os.Stderr,
			ServiceName: "roster-ingest",
			NoColor:     noColor,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
