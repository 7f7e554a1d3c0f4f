package dto

import "encoding/json"

// ReportRequest is the body of every report endpoint.
type ReportRequest struct {
	Sqon       json.RawMessage `json:"sqon"`
	ProjectID  string          `json:"projectId" validate:"required"`
	Filename   string          `json:"filename,omitempty" validate:"omitempty,max=200"`
	WithFamily bool            `json:"withFamily,omitempty"`
}

// Caller identifies the authenticated user behind a request.
type Caller struct {
	UserID      string
	AccessToken string
}

// ReportFile is a rendered report ready to be sent back.
type ReportFile struct {
	Filename    string
	ContentType string
	Data        []byte
	// Rows counts the data rows written per sheet.
	Rows map[string]int
}

type FileManifestStat struct {
	Key            string `json:"key"`
	Value          string `json:"value"`
	NbParticipants int    `json:"nb_participants"`
	NbFiles        int    `json:"nb_files"`
	Size           int64  `json:"size"`
}

type BiospecimenRequestStat struct {
	StudyCode          string `json:"study_code"`
	StudyName          string `json:"study_name"`
	NbParticipants     int    `json:"nb_participants"`
	NbAvailableSamples int    `json:"nb_available_samples"`
	NbContainers       int    `json:"nb_containers"`
}

type StatusResponse struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Description   string   `json:"description"`
	Elasticsearch string   `json:"elasticsearch"`
	Project       string   `json:"project"`
	Reports       []string `json:"reports"`
}
