package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/guard"
	"github.com/MikeSquared-Agency/scribe/internal/pending"
	"github.com/MikeSquared-Agency/scribe/internal/policy"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Message types accepted on POST /api/v1/messages.
const (
	TypeCapturePage             = "CAPTURE_PAGE"
	TypeForceArchive            = "FORCE_ARCHIVE"
	TypeListPending             = "LIST_PENDING"
	TypeGetStorageUsage         = "GET_STORAGE_USAGE"
	TypeGetConversations        = "GET_CONVERSATIONS"
	TypeGetConversationMessages = "GET_CONVERSATION_MESSAGES"
	TypeRenameConversation      = "RENAME_CONVERSATION"
	TypeDeleteConversation      = "DELETE_CONVERSATION"
	TypeClearAllData            = "CLEAR_ALL_DATA"
)

// maxMessageBytes bounds a request; page snapshots dominate it.
const maxMessageBytes = 32 << 20

// Request is the typed envelope every call uses.
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the envelope every call returns.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type CapturePagePayload struct {
	URL   string `json:"url"`
	HTML  string `json:"html"`
	Force bool   `json:"force"`
}

type ForceArchivePayload struct {
	PendingID string `json:"pendingId"`
}

type GetConversationsPayload struct {
	Platform       string `json:"platform"`
	IncludeTrashed bool   `json:"includeTrashed"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}

type ConversationPayload struct {
	ConversationID int64  `json:"conversationId"`
	Title          string `json:"title,omitempty"`
}

// statusError carries the HTTP status for a failed call.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &statusError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		TypeCapturePage:             s.capturePage,
		TypeForceArchive:            s.forceArchive,
		TypeListPending:             s.listPending,
		TypeGetStorageUsage:         s.storageUsage,
		TypeGetConversations:        s.conversations,
		TypeGetConversationMessages: s.conversationMessages,
		TypeRenameConversation:      s.renameConversation,
		TypeDeleteConversation:      s.deleteConversation,
		TypeClearAllData:            s.clearAll,
	}
}

// handleMessage handles POST /api/v1/messages
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}

	h, ok := s.handlers()[req.Type]
	if !ok {
		writeJSON(w, http.StatusBadRequest, Response{Error: fmt.Sprintf("unknown message type %q", req.Type)})
		return
	}

	data, err := h(r.Context(), req.Payload)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("message failed", "type", req.Type, "error", err)
		}
		writeJSON(w, status, Response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true, Data: data})
}

func statusFor(err error) int {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return se.status
	case errors.Is(err, store.ErrNotFound), errors.Is(err, pending.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrUnsupportedPlatform):
		return http.StatusUnprocessableEntity
	case errors.Is(err, guard.ErrStorageHardLimit):
		return http.StatusInsufficientStorage
	case errors.Is(err, policy.ErrPolicyUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return badRequest("invalid payload: %v", err)
	}
	return nil
}

func (s *Server) capturePage(ctx context.Context, payload json.RawMessage) (any, error) {
	var p CapturePagePayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.URL) == "" {
		return nil, badRequest("url is required")
	}
	return s.deps.Capturer.Capture(ctx, processor.Page{URL: p.URL, HTML: p.HTML}, processor.Options{Force: p.Force})
}

func (s *Server) forceArchive(ctx context.Context, payload json.RawMessage) (any, error) {
	var p ForceArchivePayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.PendingID) == "" {
		return nil, badRequest("pendingId is required")
	}
	return s.deps.Capturer.ForceArchive(ctx, p.PendingID)
}

func (s *Server) listPending(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.deps.Capturer.ListPending(ctx)
}

func (s *Server) storageUsage(ctx context.Context, _ json.RawMessage) (any, error) {
	snap, err := s.deps.Usage.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetStorageUsed(snap.OriginUsed)
	}
	return snap, nil
}

func (s *Server) conversations(ctx context.Context, payload json.RawMessage) (any, error) {
	var p GetConversationsPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	list, err := s.deps.Store.ListConversations(ctx, store.ListOptions{
		Platform:       chat.Platform(p.Platform),
		IncludeTrashed: p.IncludeTrashed,
		Limit:          p.Limit,
		Offset:         p.Offset,
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []store.Conversation{}
	}
	return list, nil
}

func (s *Server) conversationMessages(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := conversationPayload(payload)
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Store.GetConversation(ctx, p.ConversationID); err != nil {
		return nil, err
	}
	msgs, err := s.deps.Store.ListMessages(ctx, p.ConversationID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return msgs, nil
}

func (s *Server) renameConversation(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := conversationPayload(payload)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, badRequest("title is required")
	}
	if err := s.deps.Store.RenameConversation(ctx, p.ConversationID, title); err != nil {
		return nil, err
	}
	return map[string]any{"conversationId": p.ConversationID, "title": title}, nil
}

func (s *Server) deleteConversation(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := conversationPayload(payload)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.DeleteConversation(ctx, p.ConversationID); err != nil {
		return nil, err
	}
	return map[string]any{"conversationId": p.ConversationID}, nil
}

func (s *Server) clearAll(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := s.deps.Store.ClearAll(ctx); err != nil {
		return nil, err
	}
	s.logger.Warn("all conversation data cleared")
	return map[string]bool{"cleared": true}, nil
}

func conversationPayload(payload json.RawMessage) (ConversationPayload, error) {
	var p ConversationPayload
	if err := decode(payload, &p); err != nil {
		return p, err
	}
	if p.ConversationID <= 0 {
		return p, badRequest("conversationId is required")
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
