package events

import "time"

const (
	TypeReportGenerated = "REPORT_GENERATED"
	TypeReportFailed    = "REPORT_FAILED"
)

// ReportGenerated describes one finished export.
type ReportGenerated struct {
	ID         string
	Report     string
	ProjectID  string
	UserID     string
	Filename   string
	WithFamily bool
	Rows       map[string]int
	Duration   time.Duration
	OccurredAt time.Time
}

func (e ReportGenerated) EventType() string { return TypeReportGenerated }

func (e ReportGenerated) Payload() map[string]interface{} {
	return map[string]interface{}{
		"id":          e.ID,
		"report":      e.Report,
		"project_id":  e.ProjectID,
		"user_id":     e.UserID,
		"filename":    e.Filename,
		"with_family": e.WithFamily,
		"rows":        e.Rows,
		"duration_ms": e.Duration.Milliseconds(),
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339),
	}
}

func (e ReportGenerated) Timestamp() time.Time { return e.OccurredAt }

// ReportFailed is published when an export aborts.
func ReportFailed(report, projectID, userID string, err error, at time.Time) BaseEvent {
	return BaseEvent{
		Type: TypeReportFailed,
		Data: map[string]interface{}{
			"report":      report,
			"project_id":  projectID,
			"user_id":     userID,
			"error":       err.Error(),
			"occurred_at": at.UTC().Format(time.RFC3339),
		},
		OccurredAt: at,
	}
}
