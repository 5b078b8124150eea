// Package handler exposes the JSON API consumed by the web frontend.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/liangwu/tcmprep/internal/exam"
	appI18n "github.com/liangwu/tcmprep/internal/i18n"
	"github.com/liangwu/tcmprep/internal/model"
	"github.com/liangwu/tcmprep/internal/session"
	"github.com/liangwu/tcmprep/internal/transcript"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions    *session.Manager
	transcripts *transcript.Store
}

// New creates a new Handler.
func New(m *session.Manager, ts *transcript.Store) *Handler {
	return &Handler{sessions: m, transcripts: ts}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(api chi.Router) {
		api.Post("/session", h.handleCreateSession)
		api.Route("/session/{sessionID}", func(sr chi.Router) {
			sr.Post("/category", h.handleSelectCategory)
			sr.Post("/question", h.handleRequestQuestion)
			sr.Post("/answer", h.handleSubmitAnswer)
			sr.Post("/next", h.handleRequestQuestion)
			sr.Post("/chat", h.handleChat)
		})
		api.Post("/transcripts", h.handleSaveTranscript)
		api.Get("/transcripts", h.handleListTranscripts)
		api.Get("/transcripts/{transcriptID}", h.handleGetTranscript)
	})
}

// sessionResponse wraps a session snapshot with the localized banner
// text for degraded modes.
type sessionResponse struct {
	session.Snapshot
	StatusMessage string `json:"statusMessage,omitempty"`
}

func (h *Handler) respondSession(w http.ResponseWriter, r *http.Request, status int, snap session.Snapshot) {
	resp := sessionResponse{Snapshot: snap}
	switch snap.Status {
	case model.StatusLimited:
		resp.StatusMessage = appI18n.T(r.Context(), "BannerLimited")
	case model.StatusUnavailable:
		resp.StatusMessage = appI18n.T(r.Context(), "BannerUnavailable")
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category model.ExamCategory `json:"category"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s, err := h.sessions.Create(req.Category)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "ErrorSaveFailed")
		return
	}
	h.respondSession(w, r, http.StatusCreated, s.Snapshot())
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "ErrorSessionNotFound")
	}
	return s, ok
}

func (h *Handler) handleSelectCategory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Category model.ExamCategory `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category == "" {
		writeError(w, r, http.StatusBadRequest, "ErrorMissingCategory")
		return
	}
	snap, err := s.SelectCategory(req.Category)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrorUnknownCategory")
		return
	}
	h.respondSession(w, r, http.StatusOK, snap)
}

func (h *Handler) handleRequestQuestion(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.RequestQuestion(r.Context())
	switch {
	case errors.Is(err, session.ErrStale):
		writeError(w, r, http.StatusConflict, "ErrorSuperseded")
	case err != nil:
		slog.Error("question generation hard failure", "error", err)
		h.respondSession(w, r, http.StatusInternalServerError, snap)
	default:
		h.respondSession(w, r, http.StatusOK, snap)
	}
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	snap, err := s.SubmitAnswer(r.Context(), req.Answer)
	switch {
	case errors.Is(err, exam.ErrEmptyAnswer):
		writeError(w, r, http.StatusBadRequest, "ErrorEmptyAnswer")
	case errors.Is(err, session.ErrNoQuestion):
		writeError(w, r, http.StatusBadRequest, "ErrorNoQuestion")
	case errors.Is(err, session.ErrStale):
		writeError(w, r, http.StatusConflict, "ErrorSuperseded")
	case err != nil:
		slog.Error("answer evaluation hard failure", "error", err)
		h.respondSession(w, r, http.StatusInternalServerError, snap)
	default:
		h.respondSession(w, r, http.StatusOK, snap)
	}
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	snap, err := s.Chat(r.Context(), req.Message)
	switch {
	case errors.Is(err, exam.ErrEmptyAnswer):
		writeError(w, r, http.StatusBadRequest, "ErrorEmptyAnswer")
	case errors.Is(err, session.ErrStale):
		writeError(w, r, http.StatusConflict, "ErrorSuperseded")
	case err != nil:
		slog.Error("chat hard failure", "error", err)
		h.respondSession(w, r, http.StatusInternalServerError, snap)
	default:
		h.respondSession(w, r, http.StatusOK, snap)
	}
}

func (h *Handler) handleSaveTranscript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category model.ExamCategory  `json:"examCategory"`
		Messages []model.ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrorEmptyTranscript")
		return
	}

	id, err := h.transcripts.Save(req.Category, req.Messages)
	switch {
	case errors.Is(err, transcript.ErrMissingCategory):
		writeError(w, r, http.StatusBadRequest, "ErrorMissingCategory")
	case errors.Is(err, transcript.ErrEmptyMessages):
		writeError(w, r, http.StatusBadRequest, "ErrorEmptyTranscript")
	case err != nil:
		slog.Error("save transcript", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrorSaveFailed")
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"transcriptId": id})
	}
}

func (h *Handler) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	transcripts, err := h.transcripts.List()
	if err != nil {
		slog.Error("list transcripts", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrorListFailed")
		return
	}
	if transcripts == nil {
		transcripts = []model.Transcript{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": transcripts})
}

func (h *Handler) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	t, err := h.transcripts.Get(chi.URLParam(r, "transcriptID"))
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "ErrorTranscriptNotFound")
	case err != nil:
		slog.Error("get transcript", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrorListFailed")
	default:
		writeJSON(w, http.StatusOK, t)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, map[string]string{"error": appI18n.T(r.Context(), msgID)})
}
