package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
	"whatslens/internal/security"
)

// ReportHistory keeps the per-team envelope list in the KV store.
type ReportHistory interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

func reportHistoryKey(teamID string) string { return "reports:" + teamID }

// Generator renders report artifacts to disk and tracks their envelopes.
type Generator struct {
	suite   *Suite
	history ReportHistory
	dir     string
	logger  *logrus.Logger
}

func NewGenerator(suite *Suite, history ReportHistory, dir string, logger *logrus.Logger) *Generator {
	return &Generator{suite: suite, history: history, dir: dir, logger: logger}
}

// Generate runs the aggregation synchronously and writes the artifact.
// Aggregation and write failures produce a failed envelope rather than an
// error so the history records the attempt.
func (g *Generator) Generate(ctx context.Context, req models.GenerateReportRequest) (*models.ReportMeta, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}
	if err := validateReportRequest(req); err != nil {
		return nil, err
	}

	meta := &models.ReportMeta{
		ID:          uuid.New().String(),
		TeamID:      tenant.TeamID,
		Type:        req.Type,
		Format:      req.Format,
		Status:      models.ReportCompleted,
		RequestedBy: tenant.UserID,
		CreatedAt:   time.Now(),
	}
	meta.Filename = fmt.Sprintf("%s.%s", meta.ID, req.Format)

	data, err := g.render(ctx, req)
	if err == nil {
		err = g.write(meta.Filename, data)
	}
	if err != nil {
		meta.Status = models.ReportFailed
		meta.Error = err.Error()
		g.logger.WithError(err).WithFields(logrus.Fields{
			"team_id": tenant.TeamID,
			"type":    req.Type,
		}).Warn("Report generation failed")
	} else {
		meta.SizeBytes = int64(len(data))
		g.logger.WithFields(logrus.Fields{
			"team_id":   tenant.TeamID,
			"report_id": meta.ID,
			"type":      req.Type,
			"bytes":     meta.SizeBytes,
		}).Info("Report generated")
	}

	g.appendHistory(ctx, tenant.TeamID, meta)
	return meta, nil
}

func validateReportRequest(req models.GenerateReportRequest) error {
	switch req.Type {
	case models.ReportOverview, models.ReportVolume, models.ReportResponseTime,
		models.ReportFunnel, models.ReportAgents:
	default:
		return apperrors.NewValidationError("type", fmt.Sprintf("unknown report type %q", req.Type))
	}
	switch req.Format {
	case models.ReportJSON, models.ReportCSV:
	default:
		return apperrors.NewValidationError("format", fmt.Sprintf("unknown report format %q", req.Format))
	}
	if !req.Period.Valid() {
		return apperrors.NewValidationError("period", "start must be before end")
	}
	return nil
}

func (g *Generator) render(ctx context.Context, req models.GenerateReportRequest) ([]byte, error) {
	var (
		payload interface{}
		err     error
	)
	switch req.Type {
	case models.ReportOverview:
		payload, err = g.suite.Overview(ctx, req.Period)
	case models.ReportVolume:
		payload, err = g.suite.Metrics.Volume(ctx, req.Period, models.BucketDay)
	case models.ReportResponseTime:
		payload, err = g.suite.Metrics.ResponseTime(ctx, req.Period)
	case models.ReportFunnel:
		payload, err = g.suite.Realtime.FunnelDistribution(ctx)
	case models.ReportAgents:
		payload, err = g.suite.Metrics.Agents(ctx, req.Period)
	}
	if err != nil {
		return nil, err
	}

	if req.Format == models.ReportJSON {
		return json.MarshalIndent(payload, "", "  ")
	}
	return renderCSV(payload)
}

func renderCSV(payload interface{}) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	writeKV := func(rows [][2]string) {
		_ = w.Write([]string{"metric", "value"})
		for _, row := range rows {
			_ = w.Write(row[:])
		}
	}

	switch v := payload.(type) {
	case *Overview:
		writeKV([][2]string{
			{"total_messages", strconv.Itoa(v.Volume.Total)},
			{"inbound_messages", strconv.Itoa(v.Volume.Inbound)},
			{"outbound_messages", strconv.Itoa(v.Volume.Outbound)},
			{"total_conversations", strconv.Itoa(v.Conversations.Total)},
			{"resolution_rate", formatFloat(v.Conversations.ResolutionRate)},
			{"avg_response_seconds", formatFloat(v.ResponseTime.AvgSeconds)},
			{"median_response_seconds", formatFloat(v.ResponseTime.MedianSeconds)},
			{"p95_response_seconds", formatFloat(v.ResponseTime.P95Seconds)},
			{"active_users_day", strconv.Itoa(v.Engagement.ActiveUsersDay)},
			{"active_users_week", strconv.Itoa(v.Engagement.ActiveUsersWeek)},
			{"active_users_month", strconv.Itoa(v.Engagement.ActiveUsersMonth)},
		})
	case *models.VolumeMetrics:
		_ = w.Write([]string{"bucket", "total", "inbound", "outbound"})
		for _, b := range v.Buckets {
			_ = w.Write([]string{
				b.Bucket.Format(time.RFC3339),
				strconv.Itoa(b.Total),
				strconv.Itoa(b.Inbound),
				strconv.Itoa(b.Outbound),
			})
		}
	case *models.ResponseTimeMetrics:
		writeKV([][2]string{
			{"avg_seconds", formatFloat(v.AvgSeconds)},
			{"median_seconds", formatFloat(v.MedianSeconds)},
			{"p95_seconds", formatFloat(v.P95Seconds)},
			{"first_response_seconds", formatFloat(v.FirstResponseSeconds)},
			{"sample_count", strconv.Itoa(v.SampleCount)},
		})
	case []models.FunnelSlice:
		_ = w.Write([]string{"stage", "count", "percentage"})
		for _, slice := range v {
			_ = w.Write([]string{string(slice.Stage), strconv.Itoa(slice.Count), formatFloat(slice.Percentage)})
		}
	case []models.AgentPerformance:
		_ = w.Write([]string{"agent_id", "messages_handled", "avg_response_seconds", "conversations_closed"})
		for _, agent := range v {
			_ = w.Write([]string{
				agent.AgentID,
				strconv.Itoa(agent.MessagesHandled),
				formatFloat(agent.AvgResponseSeconds),
				strconv.Itoa(agent.ConversationsClosed),
			})
		}
	default:
		return nil, fmt.Errorf("no csv renderer for %T", payload)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func (g *Generator) write(filename string, data []byte) error {
	if err := security.ValidateFilePathWithBase(filename, g.dir); err != nil {
		return err
	}
	if err := os.MkdirAll(g.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create reports dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(g.dir, filename), data, 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (g *Generator) appendHistory(ctx context.Context, teamID string, meta *models.ReportMeta) {
	key := reportHistoryKey(teamID)

	var envelopes []models.ReportMeta
	if _, err := g.history.GetJSON(ctx, key, &envelopes); err != nil {
		g.logger.WithError(err).WithField("team_id", teamID).Warn("Failed to read report history")
	}

	envelopes = append([]models.ReportMeta{*meta}, envelopes...)
	if len(envelopes) > constants.ReportHistoryCap {
		envelopes = envelopes[:constants.ReportHistoryCap]
	}

	if err := g.history.SetJSON(ctx, key, envelopes, constants.ReportRetention); err != nil {
		g.logger.WithError(err).WithField("team_id", teamID).Warn("Failed to write report history")
	}
}

// History lists the team's report envelopes, newest first.
func (g *Generator) History(ctx context.Context) ([]models.ReportMeta, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}

	var envelopes []models.ReportMeta
	if _, err := g.history.GetJSON(ctx, reportHistoryKey(tenant.TeamID), &envelopes); err != nil {
		return nil, apperrors.NewStorageError("get report history", err)
	}
	return envelopes, nil
}

// Download resolves a completed report to its on-disk path.
func (g *Generator) Download(ctx context.Context, reportID string) (string, *models.ReportMeta, error) {
	envelopes, err := g.History(ctx)
	if err != nil {
		return "", nil, err
	}

	for i := range envelopes {
		if envelopes[i].ID != reportID {
			continue
		}
		meta := envelopes[i]
		if meta.Status != models.ReportCompleted {
			return "", nil, apperrors.NewNotFoundError("report artifact", reportID)
		}
		if err := security.ValidateFilePathWithBase(meta.Filename, g.dir); err != nil {
			return "", nil, err
		}
		return filepath.Join(g.dir, meta.Filename), &meta, nil
	}
	return "", nil, apperrors.NewNotFoundError("report", reportID)
}

// CleanupOld removes artifacts older than the retention window. Runs from
// the scheduler; not tenant-scoped.
func (g *Generator) CleanupOld(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read reports dir: %w", err)
	}

	cutoff := time.Now().Add(-constants.ReportRetention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(g.dir, entry.Name())); err != nil {
			g.logger.WithError(err).WithField("file", entry.Name()).Warn("Failed to remove expired report")
			continue
		}
		removed++
	}

	if removed > 0 {
		g.logger.WithField("removed", removed).Info("Expired reports cleaned up")
	}
	return removed, nil
}
