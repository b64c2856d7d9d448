package main

import (
	"net/http"
	"strconv"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/httputil"
	"whatslens/internal/models"
	"whatslens/internal/validation"

	"github.com/gorilla/mux"
)

func (s *Server) handleListCorrelations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		q := r.URL.Query()

		filter := models.CorrelationFilter{Limit: limit, Offset: offset}
		if raw := q.Get("verified"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				httputil.WriteError(w, apperrors.NewValidationError("verified", "must be a boolean"), requestID(r))
				return
			}
			filter.Verified = &v
		}
		if raw := q.Get("minConfidence"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v < 0 || v > 1 {
				httputil.WriteError(w, apperrors.NewValidationError("minConfidence", "must be between 0 and 1"), requestID(r))
				return
			}
			filter.MinConfidence = v
		}

		correlations, total, err := s.svc.Correlations.ListCorrelations(r.Context(), filter)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WritePaginated(w, http.StatusOK, correlations, &models.Pagination{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		})
	}
}

func (s *Server) handleCorrelateIdentity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CorrelationRequest
		if err := httputil.DecodeJSON(w, r, &req, constants.DefaultRequestBodyLimit); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		if err := validation.Struct(req); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		if err := validation.ValidatePhoneNumber(req.WAPhone); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		result, err := s.svc.Correlations.CorrelateIdentity(r.Context(), req)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		httputil.WriteJSON(w, status, result)
	}
}

func (s *Server) handleGetCorrelation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		correlation, err := s.svc.Correlations.GetCorrelation(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, correlation)
	}
}

func (s *Server) handleDeleteCorrelation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if err := s.svc.Correlations.DeleteCorrelation(r.Context(), id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
	}
}

func (s *Server) handleCorrelationStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.svc.Correlations.GetStats(r.Context())
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handlePendingVerifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := models.TenantFromContext(r.Context())
		if !ok {
			httputil.WriteError(w, apperrors.NewUnauthorizedError("missing tenant context"), requestID(r))
			return
		}
		limit, _ := pageParams(r)

		items, err := s.svc.Verification.GetPendingVerifications(r.Context(), tenant, limit)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, items)
	}
}

func (s *Server) handleVerifyCorrelation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		tenant, ok := models.TenantFromContext(r.Context())
		if !ok {
			httputil.WriteError(w, apperrors.NewUnauthorizedError("missing tenant context"), requestID(r))
			return
		}

		var req models.VerifyCorrelationRequest
		if err := httputil.DecodeJSON(w, r, &req, constants.DefaultRequestBodyLimit); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		if err := validation.Struct(req); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if req.Approve {
			if err := s.svc.Verification.ApproveCorrelation(r.Context(), tenant, id, tenant.UserID, req.AdjustedConfidence); err != nil {
				httputil.WriteError(w, err, requestID(r))
				return
			}
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "approved"})
			return
		}

		if err := s.svc.Verification.RejectCorrelation(r.Context(), tenant, id, tenant.UserID, req.Reason); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "rejected"})
	}
}

func (s *Server) handleVerificationPatterns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := models.TenantFromContext(r.Context())
		if !ok {
			httputil.WriteError(w, apperrors.NewUnauthorizedError("missing tenant context"), requestID(r))
			return
		}

		analysis, err := s.svc.Verification.AnalyzeVerificationPatterns(r.Context(), tenant)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, analysis)
	}
}
