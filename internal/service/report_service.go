package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"clinical-report-be/internal/dto"
	"clinical-report-be/internal/metrics"
	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/pkg/events"
	"clinical-report-be/pkg/family"
	"clinical-report-be/pkg/metadata"
	"clinical-report-be/pkg/reportconfig"
	"clinical-report-be/pkg/search"
	"clinical-report-be/pkg/sets"
	"clinical-report-be/pkg/sqon"
	"clinical-report-be/pkg/tabular"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const kidsFirstProject = "kids-first"

var tracer = otel.Tracer("clinical-report-be/internal/service")

type IReportService interface {
	// Generate renders one of the XLSX reports (clinical-data,
	// family-clinical-data, biospecimen-data).
	Generate(ctx context.Context, name string, req dto.ReportRequest, caller dto.Caller) (*dto.ReportFile, error)
	FileManifest(ctx context.Context, req dto.ReportRequest, caller dto.Caller) (*dto.ReportFile, error)
	FileManifestStats(ctx context.Context, req dto.ReportRequest, caller dto.Caller) ([]dto.FileManifestStat, error)
	BiospecimenRequest(ctx context.Context, req dto.ReportRequest, caller dto.Caller) (*dto.ReportFile, error)
	BiospecimenRequestStats(ctx context.Context, req dto.ReportRequest, caller dto.Caller) ([]dto.BiospecimenRequestStat, error)
	Reports() []string
}

// EventPublisher is satisfied by *nats.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type ReportServiceConfig struct {
	Project          string
	PageSize         int
	QueryMaxSize     int
	FileIndex        string
	BiospecimenIndex string
}

type reportService struct {
	client    search.Client
	cursor    *search.Cursor
	resolver  *sets.Resolver
	expander  *family.Expander
	metadata  *metadata.Cache
	registry  *reportconfig.Registry
	publisher EventPublisher
	cfg       ReportServiceConfig
	logger    logger.ILogger
	now       func() time.Time
}

func NewReportService(
	client search.Client,
	resolver *sets.Resolver,
	expander *family.Expander,
	metadataCache *metadata.Cache,
	registry *reportconfig.Registry,
	publisher EventPublisher,
	cfg ReportServiceConfig,
	log logger.ILogger,
) IReportService {
	if cfg.QueryMaxSize <= 0 {
		cfg.QueryMaxSize = search.DefaultMaxBuckets
	}
	return &reportService{
		client:    client,
		cursor:    search.NewCursor(client, log),
		resolver:  resolver,
		expander:  expander,
		metadata:  metadataCache,
		registry:  registry,
		publisher: publisher,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

func (s *reportService) Reports() []string {
	return s.registry.Names()
}

func (s *reportService) Generate(ctx context.Context, name string, req dto.ReportRequest, caller dto.Caller) (*dto.ReportFile, error) {
	return s.observe(ctx, name, req, caller, func(ctx context.Context) (*dto.ReportFile, error) {
		return s.generate(ctx, name, req, caller)
	})
}

func (s *reportService) FileManifest(ctx context.Context, req dto.ReportRequest, caller dto.Caller) (*dto.ReportFile, error) {
	return s.observe(ctx, reportconfig.FileManifest, req, caller, func(ctx context.Context) (*dto.ReportFile, error) {
		return s.fileManifest(ctx, req, caller)
	})
}

// observe wraps one generation with a span, metrics and the outcome event.
func (s *reportService) observe(ctx context.Context, name string, req dto.ReportRequest, caller dto.Caller, run func(context.Context) (*dto.ReportFile, error)) (*dto.ReportFile, error) {
	started := s.now()
	ctx, span := tracer.Start(ctx, "report."+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("report.name", name),
		attribute.String("report.project_id", req.ProjectID),
		attribute.Bool("report.with_family", req.WithFamily),
	)

	file, err := run(ctx)
	metrics.ObserveReport(name, started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("REPORT", "Report generation failed", map[string]interface{}{
			"report":     name,
			"project_id": req.ProjectID,
			"user_id":    caller.UserID,
			"error":      err.Error(),
		})
		s.publish(ctx, events.ReportFailed(name, req.ProjectID, caller.UserID, err, s.now()))
		return nil, err
	}

	s.logger.Info("REPORT", "Report generated", map[string]interface{}{
		"report":     name,
		"project_id": req.ProjectID,
		"user_id":    caller.UserID,
		"filename":   file.Filename,
		"rows":       file.Rows,
		"took_ms":    time.Since(started).Milliseconds(),
	})
	s.publish(ctx, events.ReportGenerated{
		ID:         uuid.NewString(),
		Report:     name,
		ProjectID:  req.ProjectID,
		UserID:     caller.UserID,
		Filename:   file.Filename,
		WithFamily: req.WithFamily,
		Rows:       file.Rows,
		Duration:   time.Since(started),
		OccurredAt: s.now(),
	})
	return file, nil
}

func (s *reportService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("REPORT", "Failed to publish report event", map[string]interface{}{
			"event": event.EventType(),
			"error": err.Error(),
		})
	}
}

// prepared is a report whose configuration and filter are ready to query.
type prepared struct {
	report *reportconfig.Report
	nested []string
	filter sqon.Node
}

func (s *reportService) prepare(ctx context.Context, name string, req dto.ReportRequest, caller dto.Caller) (*prepared, error) {
	cfg, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	fields, err := s.fields(ctx, req.ProjectID, cfg.IndexName)
	if err != nil {
		return nil, err
	}
	report, err := reportconfig.Normalize(cfg, fields, s.logger)
	if err != nil {
		return nil, err
	}

	filter, err := s.resolve(ctx, req, caller)
	if err != nil {
		return nil, err
	}
	return &prepared{report: report, nested: metadata.NestedFields(fields), filter: filter}, nil
}

func (s *reportService) fields(ctx context.Context, projectID, indexName string) ([]metadata.Field, error) {
	fields, err := s.metadata.Get(ctx, projectID, indexName)
	if err != nil {
		metrics.MetadataLookups.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.MetadataLookups.WithLabelValues("success").Inc()
	return fields, nil
}

func (s *reportService) resolve(ctx context.Context, req dto.ReportRequest, caller dto.Caller) (sqon.Node, error) {
	tree, err := sqon.Parse(req.Sqon)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, tree, caller.UserID, caller.AccessToken)
}

func (s *reportService) generate(ctx context.Context, name string, req dto.ReportRequest, caller dto.Caller) (*dto.ReportFile, error) {
	p, err := s.prepare(ctx, name, req, caller)
	if err != nil {
		return nil, err
	}
	report := p.report

	filter := p.filter
	if name == reportconfig.FamilyClinicalData {
		if filter, err = s.withRelatives(ctx, report.Alias, p); err != nil {
			return nil, err
		}
	}
	query := sqon.BuildQuery(filter, p.nested)

	book := tabular.NewXLSX()
	sheets := make([]tabular.Sheet, len(report.Sheets))
	for i, sheet := range report.Sheets {
		if sheets[i], err = book.AddSheet(sheet.Name, sheet.Headers()); err != nil {
			return nil, err
		}
	}

	counts := make([]int, len(report.Sheets))
	g, gctx := errgroup.WithContext(ctx)
	for i, sheet := range report.Sheets {
		g.Go(func() error {
			n, err := s.fillSheet(gctx, report, sheet, query, sheets[i])
			if err != nil {
				return fmt.Errorf("sheet %q: %w", sheet.Name, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := book.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	rows := make(map[string]int, len(counts))
	for i, sheet := range report.Sheets {
		rows[sheet.Name] = counts[i]
	}
	return &dto.ReportFile{
		Filename:    s.filename(req.Filename, book.Extension()),
		ContentType: book.ContentType(),
		Data:        buf.Bytes(),
		Rows:        rows,
	}, nil
}

// withRelatives widens the participant filter to whole families. Kids First
// indexes carry a single family_id per participant and select by family;
// other projects go through the two hop participant expansion.
func (s *reportService) withRelatives(ctx context.Context, alias string, p *prepared) (sqon.Node, error) {
	query := sqon.BuildQuery(p.filter, p.nested)
	if s.cfg.Project == kidsFirstProject {
		kf := *s.expander
		kf.FamilyField = "family_id"
		return kf.FamilySQON(ctx, alias, query, p.filter)
	}
	return s.expander.Expand(ctx, alias, query)
}

func (s *reportService) fillSheet(ctx context.Context, report *reportconfig.Report, sheet reportconfig.Sheet, query any, out tabular.Sheet) (int, error) {
	written := 0
	err := s.cursor.Run(ctx, report.Alias, &search.Request{
		Query:  query,
		Source: sheet.SourceFields(),
		Sort:   sheet.Sort,
	}, search.CursorOptions{
		PageSize: s.cfg.PageSize,
		OnPage: func(docs []map[string]any, _ search.CursorState) error {
			for _, doc := range docs {
				for _, cells := range sheet.Rows(doc) {
					if err := out.Append(cells); err != nil {
						return err
					}
					written++
				}
			}
			return nil
		},
		OnFetch: observeFetch,
	})
	metrics.RowsWritten.WithLabelValues(report.Name, sheet.Name).Add(float64(written))
	return written, err
}

func observeFetch(index string, _ time.Duration) {
	metrics.SearchPages.WithLabelValues(index).Inc()
}

func (s *reportService) fileManifest(ctx context.Context, req dto.ReportRequest, caller dto.Caller) (*dto.ReportFile, error) {
	p, err := s.prepare(ctx, reportconfig.FileManifest, req, caller)
	if err != nil {
		return nil, err
	}
	report := p.report
	if len(report.Sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no sheet", reportconfig.ErrInvalidConfig, report.Name)
	}
	sheet := report.Sheets[0]
	fileField := family.DefaultFileFields.ID

	fileIDs, err := search.FieldValues(ctx, s.client, report.Alias, sqon.BuildQuery(p.filter, p.nested), fileField, s.cfg.QueryMaxSize)
	if err != nil {
		return nil, fmt.Errorf("selected files: %w", err)
	}
	if req.WithFamily {
		if fileIDs, err = s.expander.FileFamilyIDs(ctx, report.Alias, fileIDs, family.DefaultFileFields); err != nil {
			return nil, err
		}
	}

	tsv := tabular.NewTSV()
	out, err := tsv.AddSheet(sheet.Name, sheet.Headers())
	if err != nil {
		return nil, err
	}

	written := 0
	if len(fileIDs) > 0 {
		err = s.cursor.Run(ctx, report.Alias, &search.Request{
			Query:  sqon.TermsQuery(fileField, fileIDs),
			Source: sheet.SourceFields(),
			Sort:   sheet.Sort,
		}, search.CursorOptions{
			PageSize: s.cfg.PageSize,
			OnPage: func(docs []map[string]any, _ search.CursorState) error {
				for _, doc := range docs {
					record := sheet.Record(doc)
					cells := make([]any, len(sheet.Columns))
					for i, c := range sheet.Columns {
						cells[i] = record[c.Key]
					}
					if err := out.Append(cells); err != nil {
						return err
					}
					written++
				}
				return nil
			},
			OnFetch: observeFetch,
		})
		if err != nil {
			return nil, err
		}
	}
	metrics.RowsWritten.WithLabelValues(report.Name, sheet.Name).Add(float64(written))

	var buf bytes.Buffer
	if err := tsv.Write(&buf); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return &dto.ReportFile{
		Filename:    s.filename(req.Filename, tsv.Extension()),
		ContentType: tsv.ContentType(),
		Data:        buf.Bytes(),
		Rows:        map[string]int{sheet.Name: written},
	}, nil
}

// filename returns name with ext, or report_YYYYMMDD<ext> when name is empty.
func (s *reportService) filename(name, ext string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "report_" + s.now().UTC().Format("20060102")
	}
	if !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	return name
}

// docsCollector gathers cursor pages into one slice.
type docsCollector struct {
	docs []map[string]any
}

func (c *docsCollector) onPage(docs []map[string]any, _ search.CursorState) error {
	c.docs = append(c.docs, docs...)
	return nil
}
