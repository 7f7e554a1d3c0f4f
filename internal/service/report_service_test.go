package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"clinical-report-be/internal/dto"
	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/pkg/events"
	"clinical-report-be/pkg/family"
	"clinical-report-be/pkg/metadata"
	"clinical-report-be/pkg/reportconfig"
	"clinical-report-be/pkg/search"
	"clinical-report-be/pkg/sets"
	"clinical-report-be/pkg/tabular"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const clinicalYAML = `
name: clinical-data
index_name: participant
alias: participant_centric
sheets:
  - sheet_name: Participants
    sort:
      - participant_id: {order: asc}
    columns:
      - field: participant_id
      - field: is_proband
        header: Proband
      - field: age_at_recruitment
      - field: not_in_metadata
  - sheet_name: Phenotypes
    root: phenotype
    sort:
      - participant_id: {order: asc}
    columns:
      - field: participant_id
      - field: phenotype.hpo_phenotype_observed
        header: Phenotype
`

const familyYAML = `
name: family-clinical-data
index_name: participant
alias: participant_centric
sheets:
  - sheet_name: Participants
    sort:
      - participant_id: {order: asc}
    columns:
      - field: participant_id
      - field: families_id
`

const manifestYAML = `
name: file-manifest
index_name: file
alias: file_centric
sheets:
  - sheet_name: Files
    sort:
      - file_id: {order: asc}
    columns:
      - field: file_id
        header: File ID
      - field: data_type
        header: Data Type
      - field: size
        header: File Size
        transform: {name: file_size}
      - field: participants
        field_extra_suffix: _ids
        header: Participant ID
        transform: {name: collect, path: participant_id}
`

const biospecimenRequestYAML = `
name: biospecimen-request
index_name: biospecimen
alias: biospecimen_centric
readme: |
  # Biospecimen Request
sheets:
  - sheet_name: Contact Info
    sort:
      - study.study_code: {order: asc}
    columns:
      - field: study.study_code
        header: Study Code
      - field: study.biobank_contact
        header: Biobank Contact
  - sheet_name: Study
    sort:
      - study.study_code: {order: asc}
      - sample_id: {order: asc}
    columns:
      - field: sample_id
        header: Sample ID
      - field: container_id
        header: Container ID
      - field: study.study_code
        header: Study Code
`

var testMetadata = map[string][]metadata.Field{
	"participant": {
		{Field: "participant_id", Type: "keyword", DisplayName: "Participant ID"},
		{Field: "families_id", Type: "keyword", DisplayName: "Family ID"},
		{Field: "is_proband", Type: "boolean"},
		{Field: "age_at_recruitment", Type: "long", DisplayName: "Age"},
		{Field: "phenotype", Type: "nested"},
		{Field: "phenotype.hpo_phenotype_observed", Type: "keyword"},
	},
	"file": {
		{Field: "file_id", Type: "keyword"},
		{Field: "data_type", Type: "keyword"},
		{Field: "size", Type: "long"},
		{Field: "participants", Type: "nested"},
		{Field: "participants.participant_id", Type: "keyword"},
		{Field: "participants.families_id", Type: "keyword"},
	},
	"biospecimen": {
		{Field: "sample_id", Type: "keyword"},
		{Field: "status", Type: "keyword"},
		{Field: "container_id", Type: "keyword"},
		{Field: "study.study_code", Type: "keyword"},
		{Field: "study.biobank_contact", Type: "keyword"},
	},
}

type fakeSets struct {
	owned []sets.SavedSet
}

func (f *fakeSets) UserSets(context.Context, string) ([]sets.SavedSet, error) {
	return f.owned, nil
}

func (f *fakeSets) SharedSet(_ context.Context, _ string, id string) (*sets.SavedSet, error) {
	return nil, &sets.APIError{Status: 404, Details: "set " + id}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type fixture struct {
	engine    *memoryEngine
	publisher *fakePublisher
	log       *logger.RecordingLogger
	svc       *reportService
	project   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		engine:    newMemoryEngine(),
		publisher: &fakePublisher{},
		log:       logger.NewRecordingLogger(),
		project:   "include",
	}

	f.engine.add("participant_centric",
		map[string]any{"participant_id": "p1", "families_id": "F1", "is_proband": true, "age_at_recruitment": 12,
			"phenotype": []any{
				map[string]any{"hpo_phenotype_observed": "HP:1"},
				map[string]any{"hpo_phenotype_observed": "HP:2"},
			}},
		map[string]any{"participant_id": "p2", "families_id": "F1", "is_proband": false},
		map[string]any{"participant_id": "p3", "families_id": "F2", "is_proband": true, "phenotype": []any{}},
		map[string]any{"participant_id": "p4", "families_id": "F3", "is_proband": false,
			"phenotype": []any{map[string]any{"hpo_phenotype_observed": "HP:3"}}},
	)
	f.engine.add("file_centric",
		map[string]any{"file_id": "f1", "data_type": "WGS", "size": 2000, "participants": []any{
			map[string]any{"participant_id": "p1", "families_id": "F1"},
		}},
		map[string]any{"file_id": "f2", "data_type": "WGS", "size": 3000, "participants": []any{
			map[string]any{"participant_id": "p2", "families_id": "F1"},
		}},
		map[string]any{"file_id": "f3", "data_type": "RNA", "size": 500, "participants": []any{
			map[string]any{"participant_id": "p3", "families_id": "F2"},
			map[string]any{"participant_id": "p4", "families_id": "F3"},
		}},
	)
	f.engine.add("biospecimen_centric",
		map[string]any{"sample_id": "s1", "status": "available", "participant_fhir_id": "p1", "container_id": "c1",
			"study": map[string]any{"study_code": "DS1", "study_name": "Down Syndrome 1",
				"biobank_contact": "biobank@ds1.org", "note": "Email the DS1 biobank."}},
		map[string]any{"sample_id": "s2", "status": "available", "participant_fhir_id": "p1", "container_id": "c2",
			"study": map[string]any{"study_code": "DS1", "study_name": "Down Syndrome 1"}},
		map[string]any{"sample_id": "s3", "status": "available", "participant_fhir_id": "p2",
			"study": map[string]any{"study_code": "DS1", "study_name": "Down Syndrome 1"}},
		map[string]any{"sample_id": "s4", "status": "shipped", "participant_fhir_id": "p3", "container_id": "c4",
			"study": map[string]any{"study_code": "DS2", "study_name": "Down Syndrome 2"}},
		map[string]any{"sample_id": "s5", "status": "available", "participant_fhir_id": "p4", "container_id": "c5",
			"study": map[string]any{"study_code": "DS2", "study_name": "Down Syndrome 2",
				"biobank_contact": "biobank@ds2.org", "note": "Fill the DS2 request form."}},
	)
	return f
}

func (f *fixture) service(t *testing.T) *reportService {
	t.Helper()
	registry, err := reportconfig.Load(fstest.MapFS{
		"clinical-data.yaml":        {Data: []byte(clinicalYAML)},
		"family-clinical-data.yaml": {Data: []byte(familyYAML)},
		"file-manifest.yaml":        {Data: []byte(manifestYAML)},
		"biospecimen-request.yaml":  {Data: []byte(biospecimenRequestYAML)},
	})
	require.NoError(t, err)

	fetcher := metadata.FetcherFunc(func(_ context.Context, _, index string) ([]metadata.Field, error) {
		fields, ok := testMetadata[index]
		if !ok {
			return nil, metadata.ErrProjectNotFound
		}
		return fields, nil
	})
	setsClient := &fakeSets{owned: []sets.SavedSet{
		{ID: "S1", OwnerID: "u1", Content: sets.SetContent{IDs: []string{"p1", "p4"}}},
	}}

	svc := NewReportService(
		f.engine,
		sets.NewResolver(setsClient, f.log),
		family.NewExpander(f.engine, f.log),
		metadata.NewCache(fetcher, time.Hour, f.log),
		registry,
		f.publisher,
		ReportServiceConfig{
			Project:          f.project,
			PageSize:         1,
			FileIndex:        "file_centric",
			BiospecimenIndex: "biospecimen_centric",
		},
		f.log,
	).(*reportService)
	svc.now = func() time.Time { return time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC) }
	f.svc = svc
	return svc
}

var caller = dto.Caller{UserID: "u1", AccessToken: "Bearer t"}

func request(sqon string) dto.ReportRequest {
	return dto.ReportRequest{ProjectID: "include", Sqon: json.RawMessage(sqon)}
}

func sheetRows(t *testing.T, data []byte, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestGenerateClinicalData(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)

	file, err := svc.Generate(context.Background(), reportconfig.ClinicalData,
		request(`{"op":"and","content":[{"op":"in","content":{"field":"participant_id","value":["set_id:S1"]}}]}`), caller)
	require.NoError(t, err)

	assert.Equal(t, "report_20240307.xlsx", file.Filename)
	assert.Equal(t, map[string]int{"Participants": 2, "Phenotypes": 3}, file.Rows)

	participants := sheetRows(t, file.Data, "Participants")
	assert.Equal(t, []string{"Participant ID", "Proband", "Age"}, participants[0], "unknown field dropped")
	assert.Equal(t, []string{"p1", "Yes", "12"}, participants[1])
	assert.Equal(t, []string{"p4", "No"}, participants[2])

	phenotypes := sheetRows(t, file.Data, "Phenotypes")
	require.Len(t, phenotypes, 4)
	assert.Equal(t, []string{"Participant ID", "Phenotype"}, phenotypes[0])
	assert.Equal(t, []string{"p1", "HP:1"}, phenotypes[1])
	assert.Equal(t, []string{"p1", "HP:2"}, phenotypes[2])
	assert.Equal(t, []string{"p4", "HP:3"}, phenotypes[3])

	assert.NotEmpty(t, f.log.Entries("WARN"), "missing metadata is reported")

	require.Len(t, f.publisher.events, 1)
	ev := f.publisher.events[0]
	assert.Equal(t, events.TypeReportGenerated, ev.EventType())
	assert.Equal(t, "u1", ev.Payload()["user_id"])
	assert.Equal(t, "report_20240307.xlsx", ev.Payload()["filename"])
}

func TestGenerateSendsResolvedFilterAndPages(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)

	_, err := svc.Generate(context.Background(), reportconfig.ClinicalData,
		request(`{"op":"and","content":[{"op":"in","content":{"field":"participant_id","value":["set_id:S1"]}}]}`), caller)
	require.NoError(t, err)

	calls := f.engine.calls("participant_centric")
	// two sheets, two matching documents, one per page
	assert.Len(t, calls, 4)
	for _, body := range calls {
		assert.Equal(t, true, body["track_total_hits"])
		assert.Equal(t, float64(1), body["size"])
		raw, _ := json.Marshal(body["query"])
		assert.Contains(t, string(raw), `"participant_id":["p1","p4"]`)
		assert.NotContains(t, string(raw), "set_id:")
	}
}

func TestGenerateFamilyClinicalDataAddsRelatives(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)

	req := request(`{"op":"and","content":[{"op":"in","content":{"field":"participant_id","value":["p1","p3"]}}]}`)
	req.Filename = "family"
	file, err := svc.Generate(context.Background(), reportconfig.FamilyClinicalData, req, caller)
	require.NoError(t, err)

	assert.Equal(t, "family.xlsx", file.Filename)
	rows := sheetRows(t, file.Data, "Participants")
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"p1", "F1"}, rows[1])
	assert.Equal(t, []string{"p2", "F1"}, rows[2], "relative of p1")
	assert.Equal(t, []string{"p3", "F2"}, rows[3])
}

func TestGenerateFamilyClinicalDataKidsFirst(t *testing.T) {
	f := newFixture(t)
	f.project = kidsFirstProject
	for _, doc := range f.engine.indices["participant_centric"] {
		doc["family_id"] = doc["families_id"]
	}
	svc := f.service(t)

	req := request(`{"op":"and","content":[{"op":"in","content":{"field":"participant_id","value":["p4"]}}]}`)
	file, err := svc.Generate(context.Background(), reportconfig.FamilyClinicalData, req, caller)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Participants": 1}, file.Rows)

	calls := f.engine.calls("participant_centric")
	last, _ := json.Marshal(calls[len(calls)-1]["query"])
	assert.Contains(t, string(last), `"family_id":["F3"]`)
	assert.Contains(t, string(last), `"minimum_should_match":1`)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("unknown report", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service(t).Generate(context.Background(), "nope", request(""), caller)
		assert.ErrorIs(t, err, reportconfig.ErrUnknownReport)
	})

	t.Run("unknown selection", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service(t).Generate(context.Background(), reportconfig.ClinicalData,
			request(`{"op":"and","content":[{"op":"in","content":{"field":"participant_id","value":["set_id:S9"]}}]}`), caller)
		assert.ErrorIs(t, err, sets.ErrSelectionNotFound)

		require.Len(t, f.publisher.events, 1)
		assert.Equal(t, events.TypeReportFailed, f.publisher.events[0].EventType())
	})

	t.Run("search failure", func(t *testing.T) {
		f := newFixture(t)
		f.engine.failOn = "participant_centric"
		_, err := f.service(t).Generate(context.Background(), reportconfig.ClinicalData, request(""), caller)
		var te *search.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 503, te.Status)
	})

	t.Run("publisher failure is not fatal", func(t *testing.T) {
		f := newFixture(t)
		f.publisher.err = errors.New("nats down")
		_, err := f.service(t).Generate(context.Background(), reportconfig.ClinicalData, request(""), caller)
		require.NoError(t, err)
		var warned bool
		for _, e := range f.log.Entries("WARN") {
			warned = warned || e.Message == "Failed to publish report event"
		}
		assert.True(t, warned)
	})
}

func TestFileManifest(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)

	req := request(`{"op":"and","content":[{"op":"in","content":{"field":"file_id","value":["f1","f3"]}}]}`)
	req.Filename = "manifest"
	file, err := svc.FileManifest(context.Background(), req, caller)
	require.NoError(t, err)

	assert.Equal(t, "manifest.tsv", file.Filename)
	assert.Equal(t, "text/tab-separated-values", file.ContentType)
	lines := strings.Split(strings.TrimSpace(string(file.Data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "File ID\tData Type\tFile Size\tParticipant ID", lines[0])
	assert.Equal(t, "f1\tWGS\t"+humanize.Bytes(2000)+"\tp1", lines[1])
	assert.Equal(t, "f3\tRNA\t"+humanize.Bytes(500)+"\tp3, p4", lines[2])
}

func TestFileManifestWithFamily(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)

	req := request(`{"op":"and","content":[{"op":"in","content":{"field":"file_id","value":["f1"]}}]}`)
	req.WithFamily = true
	file, err := svc.FileManifest(context.Background(), req, caller)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"Files": 2}, file.Rows, "f2 shares data type and family with f1")
	assert.True(t, strings.HasSuffix(file.Filename, ".tsv"))
}

func TestFileManifestStats(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)

	stats, err := svc.FileManifestStats(context.Background(), request(""), caller)
	require.NoError(t, err)
	assert.Equal(t, []dto.FileManifestStat{
		{Key: "WGS", Value: "WGS", NbParticipants: 2, NbFiles: 2, Size: 5000},
		{Key: "RNA", Value: "RNA", NbParticipants: 2, NbFiles: 1, Size: 500},
	}, stats)

	req := request(`{"op":"and","content":[{"op":"in","content":{"field":"file_id","value":["f1"]}}]}`)
	req.WithFamily = true
	stats, err = svc.FileManifestStats(context.Background(), req, caller)
	require.NoError(t, err)
	assert.Equal(t, []dto.FileManifestStat{
		{Key: "WGS", Value: "WGS", NbParticipants: 2, NbFiles: 2, Size: 5000},
	}, stats)
}

func TestBiospecimenRequestStats(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)

	stats, err := svc.BiospecimenRequestStats(context.Background(), request(""), caller)
	require.NoError(t, err)
	assert.Equal(t, []dto.BiospecimenRequestStat{
		{StudyCode: "DS1", StudyName: "Down Syndrome 1", NbParticipants: 2, NbAvailableSamples: 3, NbContainers: 2},
		{StudyCode: "DS2", StudyName: "Down Syndrome 2", NbParticipants: 1, NbAvailableSamples: 1, NbContainers: 1},
	}, stats)

	calls := f.engine.calls("biospecimen_centric")
	raw, _ := json.Marshal(calls[0]["query"])
	assert.Contains(t, string(raw), `"status":["available"]`)
}

func TestBiospecimenRequest(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)

	file, err := svc.BiospecimenRequest(context.Background(), request(""), caller)
	require.NoError(t, err)

	assert.Equal(t, "report_20240307.zip", file.Filename)
	assert.Equal(t, tabular.ZipMediaType, file.ContentType)
	assert.Equal(t, map[string]int{"Contact Info": 2, "DS1": 3, "DS2": 1}, file.Rows)

	entries := unzip(t, file.Data)
	require.Contains(t, entries, "report_20240307.xlsx")
	assert.Equal(t, "# Biospecimen Request\n\nEmail the DS1 biobank.\n\nFill the DS2 request form.\n", entries["README.txt"])

	book := []byte(entries["report_20240307.xlsx"])
	assert.Equal(t, [][]string{
		{"Study Code", "Biobank Contact"},
		{"DS1", "biobank@ds1.org"},
		{"DS2", "biobank@ds2.org"},
	}, sheetRows(t, book, "Contact Info"))
	assert.Equal(t, [][]string{
		{"Sample ID", "Container ID", "Study Code"},
		{"s1", "c1", "DS1"},
		{"s2", "c2", "DS1"},
		{"s3", "", "DS1"},
	}, sheetRows(t, book, "DS1"))
	assert.Equal(t, [][]string{
		{"Sample ID", "Container ID", "Study Code"},
		{"s5", "c5", "DS2"},
	}, sheetRows(t, book, "DS2"), "shipped samples are left out")

	calls := f.engine.calls("biospecimen_centric")
	require.NotEmpty(t, calls)
	raw, _ := json.Marshal(calls[0]["query"])
	assert.Contains(t, string(raw), `"status":["available"]`)
	assert.Contains(t, calls[0]["_source"], "study.note")

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, reportconfig.BiospecimenRequest, f.publisher.events[0].(events.ReportGenerated).Report)
}

func TestBiospecimenRequestNeedsTwoSheets(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)
	contactOnly := biospecimenRequestYAML[:strings.Index(biospecimenRequestYAML, "  - sheet_name: Study")]
	registry, err := reportconfig.Load(fstest.MapFS{
		"biospecimen-request.yaml": {Data: []byte(contactOnly)},
	})
	require.NoError(t, err)
	svc.registry = registry

	_, err = svc.BiospecimenRequest(context.Background(), request(""), caller)
	assert.ErrorIs(t, err, reportconfig.ErrInvalidConfig)
}

func unzip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		out[f.Name] = string(content)
	}
	return out
}

func TestFilename(t *testing.T) {
	svc := &reportService{now: func() time.Time { return time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC) }}
	assert.Equal(t, "report_20231231.xlsx", svc.filename("", ".xlsx"))
	assert.Equal(t, "my.xlsx", svc.filename("my.xlsx", ".xlsx"))
	assert.Equal(t, "my.tsv", svc.filename(" my ", ".tsv"))
}
