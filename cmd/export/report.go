package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"clinical-report-be/internal/dto"
	"clinical-report-be/pkg/reportconfig"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// requestFlags are shared by the report and stats commands.
type requestFlags struct {
	projectID  string
	sqon       string
	sqonFile   string
	filename   string
	withFamily bool
	userID     string
	token      string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.projectID, "project-id", "", "project id the filter applies to (required)")
	cmd.Flags().StringVar(&f.sqon, "sqon", "", "filter as inline JSON")
	cmd.Flags().StringVar(&f.sqonFile, "sqon-file", "", "read the filter from a JSON file")
	cmd.Flags().BoolVar(&f.withFamily, "with-family", false, "include the files of relatives (file manifest only)")
	cmd.Flags().StringVar(&f.userID, "user", "", "user id owning the saved sets referenced by the filter")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("EXPORT_ACCESS_TOKEN"), "bearer token for the users API")
	_ = cmd.MarkFlagRequired("project-id")
}

func (f *requestFlags) request() (dto.ReportRequest, dto.Caller, error) {
	raw, err := readFilter(f.sqon, f.sqonFile)
	if err != nil {
		return dto.ReportRequest{}, dto.Caller{}, err
	}
	token := f.token
	if token != "" && !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}
	req := dto.ReportRequest{
		Sqon:       raw,
		ProjectID:  f.projectID,
		Filename:   f.filename,
		WithFamily: f.withFamily,
	}
	return req, dto.Caller{UserID: f.userID, AccessToken: token}, nil
}

// readFilter returns the filter JSON given inline or in a file. No filter
// selects everything.
func readFilter(inline, path string) (json.RawMessage, error) {
	if inline != "" && path != "" {
		return nil, errors.New("--sqon and --sqon-file are mutually exclusive")
	}
	var raw []byte
	switch {
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read filter: %w", err)
		}
		raw = b
	case inline != "":
		raw = []byte(inline)
	default:
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("filter is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

var (
	reportFlags  requestFlags
	reportOutDir string
)

var reportCmd = &cobra.Command{
	Use:   "report [name]",
	Short: "Generate a report file",
	Long: fmt.Sprintf(`Generates one report and writes it to the output directory.

Reports: %s, %s, %s (XLSX), %s (TSV) and %s (ZIP).`,
		reportconfig.ClinicalData, reportconfig.FamilyClinicalData, reportconfig.BiospecimenData, reportconfig.FileManifest,
		reportconfig.BiospecimenRequest),
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportFlags.register(reportCmd)
	reportCmd.Flags().StringVar(&reportFlags.filename, "filename", "", "output file name (default report_YYYYMMDD)")
	reportCmd.Flags().StringVarP(&reportOutDir, "out", "o", ".", "output directory")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	req, caller, err := reportFlags.request()
	if err != nil {
		return err
	}

	_, container, err := newContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	ctx := cmd.Context()
	var file *dto.ReportFile
	switch args[0] {
	case reportconfig.FileManifest:
		file, err = container.ReportService.FileManifest(ctx, req, caller)
	case reportconfig.BiospecimenRequest:
		file, err = container.ReportService.BiospecimenRequest(ctx, req, caller)
	default:
		file, err = container.ReportService.Generate(ctx, args[0], req, caller)
	}
	if err != nil {
		return fmt.Errorf("generate %s: %w", args[0], err)
	}

	path := filepath.Join(reportOutDir, file.Filename)
	if err := os.WriteFile(path, file.Data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	cmd.Printf("Wrote %s (%s)\n", path, humanize.Bytes(uint64(len(file.Data))))
	sheets := make([]string, 0, len(file.Rows))
	for sheet := range file.Rows {
		sheets = append(sheets, sheet)
	}
	sort.Strings(sheets)
	for _, sheet := range sheets {
		cmd.Printf("  %s: %s rows\n", sheet, humanize.Comma(int64(file.Rows[sheet])))
	}
	return nil
}
