package analytics

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"whatslens/internal/database"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

type reportsFixture struct {
	mstore    *mockMetricStore
	rstore    *mockRealtimeStore
	history   *fakeKV
	dir       string
	generator *Generator
}

func newReportsFixture(t *testing.T) *reportsFixture {
	f := &reportsFixture{
		mstore:  new(mockMetricStore),
		rstore:  new(mockRealtimeStore),
		history: newFakeKV(),
		dir:     t.TempDir(),
	}
	metrics := NewMetrics(f.mstore, nil, Options{CacheEnabled: false}, testLogger())
	realtime := NewRealtime(f.rstore, nil, nil, nil, RealtimeOptions{}, testLogger())
	suite := NewSuite(metrics, realtime, testLogger())
	f.generator = NewGenerator(suite, f.history, f.dir, testLogger())
	return f
}

func volumeRequest() models.GenerateReportRequest {
	return models.GenerateReportRequest{
		Type:   models.ReportVolume,
		Format: models.ReportJSON,
		Period: testRange(),
	}
}

func TestGenerator_GenerateVolumeJSON(t *testing.T) {
	f := newReportsFixture(t)
	tr := testRange()
	bucket := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	f.mstore.On("GetVolumeRows", mock.Anything, tr, models.BucketDay).Return([]database.VolumeRow{
		{Bucket: bucket, Direction: models.DirectionInbound, Count: 10},
	}, nil)
	f.mstore.On("GetVolumeByHour", mock.Anything, tr).Return(map[int]int{9: 10}, nil)

	meta, err := f.generator.Generate(tenantCtx(), volumeRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ReportCompleted, meta.Status)
	assert.Equal(t, "team-1", meta.TeamID)
	assert.Equal(t, "user-1", meta.RequestedBy)
	assert.Equal(t, meta.ID+".json", meta.Filename)
	assert.Greater(t, meta.SizeBytes, int64(0))
	assert.Empty(t, meta.Error)

	raw, err := os.ReadFile(filepath.Join(f.dir, meta.Filename))
	require.NoError(t, err)
	var volume models.VolumeMetrics
	require.NoError(t, json.Unmarshal(raw, &volume))
	assert.Equal(t, 10, volume.Total)
	assert.Equal(t, []int{9}, volume.PeakHours)

	history, err := f.generator.History(tenantCtx())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, meta.ID, history[0].ID)
}

func TestGenerator_GenerateAgentsCSV(t *testing.T) {
	f := newReportsFixture(t)
	tr := testRange()
	f.mstore.On("GetAgentStats", mock.Anything, tr).Return([]database.AgentRow{
		{AgentID: "agent-1", Closed: 2, Messages: 30},
	}, nil)
	f.mstore.On("GetAgentResponseTimes", mock.Anything, tr, mock.Anything).Return(map[string]float64{"agent-1": 12.5}, nil)

	meta, err := f.generator.Generate(tenantCtx(), models.GenerateReportRequest{
		Type:   models.ReportAgents,
		Format: models.ReportCSV,
		Period: tr,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportCompleted, meta.Status)
	assert.Equal(t, meta.ID+".csv", meta.Filename)

	raw, err := os.ReadFile(filepath.Join(f.dir, meta.Filename))
	require.NoError(t, err)
	content := string(raw)
	assert.True(t, strings.HasPrefix(content, "agent_id,messages_handled,avg_response_seconds,conversations_closed\n"))
	assert.Contains(t, content, "agent-1,30,12.50,2\n")
}

func TestGenerator_RecordsFailureEnvelope(t *testing.T) {
	f := newReportsFixture(t)
	f.mstore.On("GetVolumeRows", mock.Anything, mock.Anything, mock.Anything).Return(nil, assert.AnError)

	meta, err := f.generator.Generate(tenantCtx(), volumeRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ReportFailed, meta.Status)
	assert.NotEmpty(t, meta.Error)
	assert.Zero(t, meta.SizeBytes)

	_, statErr := os.Stat(filepath.Join(f.dir, meta.Filename))
	assert.True(t, os.IsNotExist(statErr))

	history, err := f.generator.History(tenantCtx())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ReportFailed, history[0].Status)
}

func TestGenerator_ValidatesRequest(t *testing.T) {
	f := newReportsFixture(t)

	tests := []struct {
		name string
		req  models.GenerateReportRequest
	}{
		{
			name: "unknown type",
			req:  models.GenerateReportRequest{Type: "psychic", Format: models.ReportJSON, Period: testRange()},
		},
		{
			name: "unknown format",
			req:  models.GenerateReportRequest{Type: models.ReportVolume, Format: "xlsx", Period: testRange()},
		},
		{
			name: "inverted period",
			req: models.GenerateReportRequest{
				Type:   models.ReportVolume,
				Format: models.ReportJSON,
				Period: models.TimeRange{Start: testRange().End, End: testRange().Start},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.generator.Generate(tenantCtx(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
		})
	}

	// Rejected requests never reach the history.
	assert.Equal(t, 0, f.history.size())
}

func TestGenerator_RequiresTenant(t *testing.T) {
	f := newReportsFixture(t)

	_, err := f.generator.Generate(context.Background(), volumeRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
}

func TestGenerator_Download(t *testing.T) {
	f := newReportsFixture(t)
	f.mstore.On("GetVolumeRows", mock.Anything, mock.Anything, mock.Anything).Return([]database.VolumeRow{}, nil)
	f.mstore.On("GetVolumeByHour", mock.Anything, mock.Anything).Return(map[int]int{}, nil)

	generated, err := f.generator.Generate(tenantCtx(), volumeRequest())
	require.NoError(t, err)

	path, meta, err := f.generator.Download(tenantCtx(), generated.ID)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.dir, generated.Filename), path)
	assert.Equal(t, generated.ID, meta.ID)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestGenerator_Download_UnknownReport(t *testing.T) {
	f := newReportsFixture(t)

	_, _, err := f.generator.Download(tenantCtx(), "missing-id")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestGenerator_Download_FailedReportHasNoArtifact(t *testing.T) {
	f := newReportsFixture(t)
	f.mstore.On("GetVolumeRows", mock.Anything, mock.Anything, mock.Anything).Return(nil, assert.AnError)

	generated, err := f.generator.Generate(tenantCtx(), volumeRequest())
	require.NoError(t, err)

	_, _, err = f.generator.Download(tenantCtx(), generated.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestGenerator_HistoryNewestFirst(t *testing.T) {
	f := newReportsFixture(t)
	f.mstore.On("GetVolumeRows", mock.Anything, mock.Anything, mock.Anything).Return([]database.VolumeRow{}, nil)
	f.mstore.On("GetVolumeByHour", mock.Anything, mock.Anything).Return(map[int]int{}, nil)

	first, err := f.generator.Generate(tenantCtx(), volumeRequest())
	require.NoError(t, err)
	second, err := f.generator.Generate(tenantCtx(), volumeRequest())
	require.NoError(t, err)

	history, err := f.generator.History(tenantCtx())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
}

func TestGenerator_CleanupOld(t *testing.T) {
	f := newReportsFixture(t)

	oldPath := filepath.Join(f.dir, "expired.json")
	require.NoError(t, os.WriteFile(oldPath, []byte("{}"), 0o600))
	stale := time.Now().AddDate(0, 0, -31)
	require.NoError(t, os.Chtimes(oldPath, stale, stale))

	freshPath := filepath.Join(f.dir, "fresh.json")
	require.NoError(t, os.WriteFile(freshPath, []byte("{}"), 0o600))

	removed, err := f.generator.CleanupOld(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshPath)
	assert.NoError(t, err)
}

func TestGenerator_CleanupOld_MissingDir(t *testing.T) {
	f := newReportsFixture(t)
	f.generator.dir = filepath.Join(f.dir, "never-created")

	removed, err := f.generator.CleanupOld(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRenderCSV_Funnel(t *testing.T) {
	slices := []models.FunnelSlice{
		{Stage: models.StageInitialContact, Count: 6, Percentage: 60},
		{Stage: models.StageClose, Count: 4, Percentage: 40},
	}

	raw, err := renderCSV(slices)
	require.NoError(t, err)

	content := string(raw)
	assert.True(t, strings.HasPrefix(content, "stage,count,percentage\n"))
	assert.Contains(t, content, "initial_contact,6,60.00\n")
	assert.Contains(t, content, "close,4,40.00\n")
}

func TestRenderCSV_UnsupportedPayload(t *testing.T) {
	_, err := renderCSV(42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no csv renderer")
}
