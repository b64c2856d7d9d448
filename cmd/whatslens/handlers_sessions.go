package main

import (
	"net/http"

	"whatslens/internal/constants"
	"whatslens/internal/httputil"
	"whatslens/internal/models"
	"whatslens/internal/tracing"
	"whatslens/internal/validation"

	"github.com/gorilla/mux"
)

func requestID(r *http.Request) string {
	return tracing.GetRequestInfo(r.Context()).RequestID
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": Version,
		})
	}
}

func (s *Server) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.svc.Sessions.ListSessions(r.Context())
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, sessions)
	}
}

func (s *Server) handleCreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateSessionRequest
		if err := httputil.DecodeJSON(w, r, &req, constants.DefaultRequestBodyLimit); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		if err := validation.Struct(req); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		session, err := s.svc.Sessions.CreateSession(r.Context(), req)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, session)
	}
}

func (s *Server) handleSessionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		session, err := s.svc.Sessions.GetSession(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, session)
	}
}

func (s *Server) handleSessionQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		qr, err := s.svc.Sessions.GetQR(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, qr)
	}
}

func (s *Server) handleRefreshQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if err := s.svc.Sessions.RefreshQR(r.Context(), id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"sessionId": id, "status": "refreshing"})
	}
}

func (s *Server) handleLogoutSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if err := s.svc.Sessions.LogoutSession(r.Context(), id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"sessionId": id, "status": "logged_out"})
	}
}

func (s *Server) handleTerminateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if err := s.svc.Sessions.TerminateSession(r.Context(), id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"sessionId": id, "status": "terminated"})
	}
}
