package main

import (
	"fmt"
	"os"

	"clinical-report-be/internal/bootstrap"
	"clinical-report-be/internal/config"
	"clinical-report-be/internal/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "export",
	Short: "Generate clinical report exports from the command line",
	Long: `export runs the same report pipeline as the REST service against the
configured Elasticsearch cluster and writes the result to disk.

Configuration is read from the environment (and .env), as for the server.

Examples:
  # Clinical data for a saved filter
  export report clinical-data --project-id include --sqon-file filter.json

  # File manifest stats, including the files of relatives
  export stats file-manifest --project-id include --sqon '{"op":"and","content":[]}' --with-family

  # Follow report events
  export events --type REPORT_GENERATED`,
	SilenceUsage: true,
}

var (
	project string
	verbose bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "report configuration set (overrides PROJECT)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// newContainer wires the service against the environment configuration with
// console-only logging.
func newContainer() (*config.Config, *bootstrap.Container, error) {
	cfg := config.Load()
	if project != "" {
		cfg.Report.Project = project
	}
	container, err := bootstrap.NewContainer(cfg, logger.NewConsoleLogger(verbose))
	if err != nil {
		return nil, nil, err
	}
	return cfg, container, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
