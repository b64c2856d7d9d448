package main

import (
	"net/http"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/httputil"
	"whatslens/internal/models"
	"whatslens/internal/validation"

	"github.com/gorilla/mux"
)

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		q := r.URL.Query()
		filter := models.MessageFilter{
			ChatID:    q.Get("chatId"),
			SessionID: q.Get("sessionId"),
			Search:    q.Get("q"),
			Limit:     limit,
			Offset:    offset,
		}
		if filter.SessionID != "" {
			if err := validation.ValidateUUID("sessionId", filter.SessionID); err != nil {
				httputil.WriteError(w, err, requestID(r))
				return
			}
		}

		messages, err := s.svc.Messages.List(r.Context(), filter)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, messages)
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SendMessageRequest
		if err := httputil.DecodeJSON(w, r, &req, constants.DefaultRequestBodyLimit); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		if err := validation.Struct(req); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		if err := validation.ValidatePhoneNumber(req.To); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		msg, err := s.svc.Messages.Send(r.Context(), req)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		msg, err := s.svc.Messages.GetMessage(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if err := s.svc.Messages.Delete(r.Context(), id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
	}
}

func (s *Server) handleMarkMessageRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		if err := s.svc.Messages.MarkRead(r.Context(), id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "read"})
	}
}

func (s *Server) handleUnreadCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := r.URL.Query().Get("chatId")
		if chatID == "" {
			httputil.WriteError(w, apperrors.NewValidationError("chatId", "is required"), requestID(r))
			return
		}

		count, err := s.svc.Messages.UnreadCount(r.Context(), chatID)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int{"unread": count})
	}
}

func (s *Server) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		q := r.URL.Query()

		filter := models.ConversationFilter{
			Search: q.Get("q"),
			Limit:  limit,
			Offset: offset,
		}
		for _, raw := range q["status"] {
			filter.Status = append(filter.Status, models.ConversationStatus(raw))
		}
		for _, raw := range q["stage"] {
			filter.Stage = append(filter.Stage, models.FunnelStage(raw))
		}

		conversations, total, err := s.svc.Conversations.List(r.Context(), filter)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WritePaginated(w, http.StatusOK, conversations, &models.Pagination{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		})
	}
}

func (s *Server) handleGetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		limit, offset := pageParams(r)

		detail, err := s.svc.Conversations.Get(r.Context(), id, limit, offset)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, detail)
	}
}

func (s *Server) handleUpdateConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		var req models.UpdateConversationRequest
		if err := httputil.DecodeJSON(w, r, &req, constants.DefaultRequestBodyLimit); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		conversation, err := s.svc.Conversations.Update(r.Context(), id, req)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, conversation)
	}
}

func (s *Server) handleCloseConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		conversation, err := s.svc.Conversations.Close(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, conversation)
	}
}

func (s *Server) handleArchiveConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		conversation, err := s.svc.Conversations.Archive(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, conversation)
	}
}

func (s *Server) handleMarkConversationRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateUUID("id", id); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		updated, err := s.svc.Messages.MarkConversationRead(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int64{"updated": updated})
	}
}

func (s *Server) handleListContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		filter := models.ContactFilter{
			Search: r.URL.Query().Get("q"),
			Limit:  limit,
			Offset: offset,
		}

		contacts, total, err := s.svc.Contacts.List(r.Context(), filter)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WritePaginated(w, http.StatusOK, contacts, &models.Pagination{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		})
	}
}

func (s *Server) handleGetContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := mux.Vars(r)["phone"]
		if err := validation.ValidatePhoneNumber(phone); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		contact, err := s.svc.Contacts.Get(r.Context(), phone)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, contact)
	}
}

func (s *Server) handleUpdateContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := mux.Vars(r)["phone"]
		if err := validation.ValidatePhoneNumber(phone); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		var req models.UpdateContactRequest
		if err := httputil.DecodeJSON(w, r, &req, constants.DefaultRequestBodyLimit); err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}

		contact, err := s.svc.Contacts.Update(r.Context(), phone, req)
		if err != nil {
			httputil.WriteError(w, err, requestID(r))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, contact)
	}
}
