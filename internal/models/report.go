package models

import (
	"time"
)

type ReportType string

const (
	ReportOverview     ReportType = "overview"
	ReportVolume       ReportType = "volume"
	ReportResponseTime ReportType = "response_time"
	ReportFunnel       ReportType = "funnel"
	ReportAgents       ReportType = "agents"
)

type ReportFormat string

const (
	ReportJSON ReportFormat = "json"
	ReportCSV  ReportFormat = "csv"
)

type ReportStatus string

const (
	ReportCompleted ReportStatus = "completed"
	ReportFailed    ReportStatus = "failed"
)

type GenerateReportRequest struct {
	Type   ReportType   `json:"type" validate:"required"`
	Format ReportFormat `json:"format" validate:"required"`
	Period TimeRange    `json:"period" validate:"required"`
}

// ReportMeta is the history envelope kept in the KV store; the artifact
// itself lives on disk under the reports directory.
type ReportMeta struct {
	ID          string       `json:"id"`
	TeamID      string       `json:"teamId"`
	Type        ReportType   `json:"type"`
	Format      ReportFormat `json:"format"`
	Status      ReportStatus `json:"status"`
	RequestedBy string       `json:"requestedBy"`
	Filename    string       `json:"filename"`
	SizeBytes   int64        `json:"sizeBytes"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}
