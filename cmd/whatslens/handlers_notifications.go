package main

import (
	"net/http"
	"strconv"

	"whatslens/internal/constants"
	"whatslens/internal/httputil"
	"whatslens/internal/models"
	"whatslens/internal/validation"

	"github.com/gorilla/mux"
)

func (s *Server) handleListNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		unreadOnly := false
		if raw := r.URL.Query().Get("unreadOnly"); raw != "" {
			unreadOnly, _ = strconv.ParseBool(raw)
		}

		notifications, err := s.svc.Notifications.List(r.Context(), unreadOnly, limit, offset)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, notifications)
	}
}

func (s *Server) handleNotificationUnreadCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := s.svc.Notifications.UnreadCount(r.Context())
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int{"unread": count})
	}
}

func (s *Server) handleMarkNotificationRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if err := s.svc.Notifications.MarkRead(r.Context(), id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "read"})
	}
}

func (s *Server) handleMarkAllNotificationsRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updated, err := s.svc.Notifications.MarkAllRead(r.Context())
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int64{"updated": updated})
	}
}

func (s *Server) handleDismissNotification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if err := s.svc.Notifications.Dismiss(r.Context(), id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "dismissed"})
	}
}

func (s *Server) handleGetNotificationPreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := s.svc.Notifications.Preferences(r.Context())
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, prefs)
	}
}

func (s *Server) handleUpdateNotificationPreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var prefs models.NotificationPreferences
		if err := httputil.DecodeJSON(w, r, &prefs, constants.DefaultRequestBodyLimit); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if err := s.svc.Notifications.UpdatePreferences(r.Context(), prefs); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, prefs)
	}
}
