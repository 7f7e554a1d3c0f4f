package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	statsFlags  requestFlags
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:       "stats [file-manifest|biospecimen-request]",
	Short:     "Print file manifest or biospecimen request stats",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"file-manifest", "biospecimen-request"},
	RunE:      runStats,
}

func init() {
	statsFlags.register(statsCmd)
	statsCmd.Flags().StringVarP(&statsFormat, "format", "f", "yaml", "output format: yaml|json")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	req, caller, err := statsFlags.request()
	if err != nil {
		return err
	}

	_, container, err := newContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	var stats any
	switch args[0] {
	case "file-manifest":
		stats, err = container.ReportService.FileManifestStats(cmd.Context(), req, caller)
	default:
		stats, err = container.ReportService.BiospecimenRequestStats(cmd.Context(), req, caller)
	}
	if err != nil {
		return err
	}
	return writeStats(cmd.OutOrStdout(), statsFormat, stats)
}

func writeStats(w io.Writer, format string, stats any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case "yaml":
		// round-trip through JSON so the keys follow the API field names
		raw, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
