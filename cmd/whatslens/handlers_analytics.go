package main

import (
	"fmt"
	"net/http"
	"strconv"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/httputil"
	"whatslens/internal/models"
	"whatslens/internal/validation"

	"github.com/gorilla/mux"
)

func (s *Server) handleAnalyticsOverview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tr, err := timeRangeParams(r)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		overview, err := s.svc.Analytics.Overview(r.Context(), tr)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, overview)
	}
}

// collectMetricsRequest selects which metric families one dashboard refresh
// needs, so the client pays for a single round trip.
type collectMetricsRequest struct {
	Metrics  []string              `json:"metrics" validate:"required,min=1"`
	Period   models.TimeRange      `json:"period"`
	Interval models.BucketInterval `json:"interval,omitempty"`
}

func (s *Server) handleCollectMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req collectMetricsRequest
		if err := httputil.DecodeJSON(w, r, &req, constants.DefaultRequestBodyLimit); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		if err := validation.Struct(req); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		if !req.Period.Valid() {
			httputil.WriteError(w, apperrors.NewValidationError("period", "start must be before end"), requestID(r))
			return
		}
		interval := req.Interval
		if interval == "" {
			interval = models.BucketDay
		}
		if !models.ValidBucketInterval(interval) {
			httputil.WriteError(w, apperrors.NewValidationError("interval", fmt.Sprintf("unknown interval %q", interval)), requestID(r))
			return
		}

		results, err := s.svc.Analytics.Collect(r.Context(), req.Metrics, req.Period, interval)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, results)
	}
}

func (s *Server) handleTimeseries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metric := r.URL.Query().Get("metric")
		if metric == "" {
			httputil.WriteError(w, apperrors.NewValidationError("metric", "is required"), requestID(r))
			return
		}
		interval := models.BucketInterval(r.URL.Query().Get("interval"))
		if interval == "" {
			interval = models.BucketDay
		}
		if !models.ValidBucketInterval(interval) {
			httputil.WriteError(w, apperrors.NewValidationError("interval", fmt.Sprintf("unknown interval %q", interval)), requestID(r))
			return
		}
		tr, err := timeRangeParams(r)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		buckets, err := s.svc.Analytics.Timeseries(r.Context(), metric, tr, interval)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, buckets)
	}
}

func (s *Server) handleFunnel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slices, err := s.svc.Realtime.FunnelDistribution(r.Context())
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, slices)
	}
}

func (s *Server) handleAttribution() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := models.AttributionModel(r.URL.Query().Get("model"))
		if model == "" {
			model = models.AttributionLastTouch
		}
		if !models.ValidAttributionModel(model) {
			httputil.WriteError(w, apperrors.NewValidationError("model", fmt.Sprintf("unknown attribution model %q", model)), requestID(r))
			return
		}
		tr, err := timeRangeParams(r)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		attribution, err := s.svc.Metrics.Attribution(r.Context(), model, tr)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, attribution)
	}
}

func (s *Server) handleCohorts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cohortType := models.CohortType(r.URL.Query().Get("cohortType"))
		if cohortType == "" {
			cohortType = models.CohortWeekly
		}
		tr, err := timeRangeParams(r)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		rows, err := s.svc.Metrics.Cohorts(r.Context(), cohortType, tr)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rows)
	}
}

func (s *Server) handleRealtime() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		live, err := s.svc.Realtime.LiveMetrics(r.Context())
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, live)
	}
}

func (s *Server) handleActiveConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := constants.DefaultActiveConvosLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= constants.MaxPageLimit {
				limit = v
			}
		}

		active, err := s.svc.Realtime.ActiveConversations(r.Context(), limit)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, active)
	}
}

func (s *Server) handleGenerateReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.GenerateReportRequest
		if err := httputil.DecodeJSON(w, r, &req, constants.DefaultRequestBodyLimit); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		if err := validation.Struct(req); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		meta, err := s.svc.Reports.Generate(r.Context(), req)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, meta)
	}
}

func (s *Server) handleReportHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := s.svc.Reports.History(r.Context())
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, history)
	}
}

func (s *Server) handleDownloadReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		path, meta, err := s.svc.Reports.Download(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		w.Header().Set("Content-Type", constants.ContentTypeForDownload(meta.Filename))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Filename))
		http.ServeFile(w, r, path)
	}
}
