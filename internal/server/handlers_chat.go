package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/chat"
	"github.com/groundtruth-ai/restaurant-chat/internal/chatlog"
	"github.com/groundtruth-ai/restaurant-chat/internal/notify"
)

// writeStoreError maps store and service errors onto HTTP statuses
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chatlog.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatlog.ErrMessageNotFound), errors.Is(err, notify.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidEndStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseFilter reads status, customerId, from and to query parameters
func parseFilter(r *http.Request) (chatlog.Filter, error) {
	q := r.URL.Query()
	filter := chatlog.Filter{
		Status:     chatlog.Status(q.Get("status")),
		CustomerID: q.Get("customerId"),
	}

	var err error
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, errors.New("from must be an RFC 3339 timestamp")
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, errors.New("to must be an RFC 3339 timestamp")
		}
	}
	return filter, nil
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) ([]chatlog.Conversation, bool) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	convs, err := s.deps.Conversations.List(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, r, err)
		return nil, false
	}
	return convs, true
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if convs, ok := s.listConversations(w, r); ok {
		writeJSON(w, http.StatusOK, convs)
	}
}

type createConversationRequest struct {
	CustomerID string `json:"customerId"`
	Outlet     string `json:"outlet"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := s.deps.Chat.StartConversation(r.Context(), req.CustomerID, req.Outlet)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleClearConversations(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Conversations.Clear(r.Context()); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Conversations.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reply, err := s.deps.Chat.SendMessage(r.Context(), mux.Vars(r)["id"], req.Text)
	if err != nil {
		if reply.UserMessage.ID != "" {
			// the message was stored but the responder failed
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error": err.Error(),
				"reply": reply,
			})
			return
		}
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type rateMessageRequest struct {
	Rating string `json:"rating"`
}

func (s *Server) handleRateMessage(w http.ResponseWriter, r *http.Request) {
	var req rateMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Rating != "up" && req.Rating != "down" {
		writeError(w, http.StatusBadRequest, `rating must be "up" or "down"`)
		return
	}

	vars := mux.Vars(r)
	conv, err := s.deps.Chat.RateMessage(r.Context(), vars["id"], vars["messageID"], req.Rating == "up")
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type endConversationRequest struct {
	Status chatlog.Status `json:"status"`
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	var req endConversationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := s.deps.Chat.EndConversation(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	convs, ok := s.listConversations(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="training-data.json"`)
	writeJSON(w, http.StatusOK, chatlog.ExportForTraining(convs))
}

func (s *Server) handleConversationStatistics(w http.ResponseWriter, r *http.Request) {
	convs, err := s.deps.Conversations.List(r.Context(), chatlog.Filter{})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatlog.ComputeStatistics(convs, time.Now()))
}

func (s *Server) handleMaskingMetrics(w http.ResponseWriter, r *http.Request) {
	convs, err := s.deps.Conversations.List(r.Context(), chatlog.Filter{})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatlog.ComputeMaskingMetrics(convs))
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Notifications.List(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Notifications.UnreadCount(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Notifications.MarkRead(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Notifications.MarkAllRead(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
