package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/44xclub/voicesched/internal/domain"
	verrors "github.com/44xclub/voicesched/internal/errors"
	"github.com/44xclub/voicesched/internal/identity"
	"github.com/44xclub/voicesched/internal/pipeline"
)

// uploadFormMemory caps how much of a multipart upload is buffered in
// memory before spilling to disk.
const uploadFormMemory = 1 << 20

// VoiceHandler exposes the voice pipeline endpoints.
type VoiceHandler struct {
	svc           *pipeline.Service
	maxAudioBytes int64
}

// NewVoiceHandler creates the voice pipeline handler.
func NewVoiceHandler(svc *pipeline.Service, maxAudioBytes int64) *VoiceHandler {
	return &VoiceHandler{svc: svc, maxAudioBytes: maxAudioBytes}
}

// RegisterRoutes registers voice pipeline routes.
func (h *VoiceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/voice", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{sessionID}", h.PollSession)
		r.Post("/sessions/{sessionID}/audio", h.UploadAudio)
		r.Post("/parse", h.ParseTranscript)
		r.Post("/execute", h.ExecuteCommand)
		r.Get("/commands/{commandID}", h.GetCommand)
	})
}

type createSessionRequest struct {
	ReturnURL string `json:"return_url,omitempty"`
}

// CreateSession starts a breakout capture session.
func (h *VoiceHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, verrors.NewInvalidRequest("invalid JSON body"))
			return
		}
	}

	created, err := h.svc.CreateSession(r.Context(), userID, req.ReturnURL)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusCreated, created)
}

// PollSession returns the current session snapshot. Never blocks; expiry is
// recomputed at read time.
func (h *VoiceHandler) PollSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	snapshot, err := h.svc.PollSession(r.Context(), userID, sessionID)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, snapshot)
}

// UploadAudio accepts the breakout capture's multipart audio upload and runs
// the transcribe → parse steps synchronously.
func (h *VoiceHandler) UploadAudio(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	// Cap the request body slightly above the audio limit so an oversized
	// upload is cut off at the socket instead of buffered whole.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudioBytes+uploadFormMemory)

	if err := r.ParseMultipartForm(uploadFormMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, verrors.NewFileTooLarge(h.maxAudioBytes))
			return
		}
		WriteError(w, verrors.NewInvalidRequest("expected multipart form with audio file"))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, verrors.NewInvalidRequest("audio file missing"))
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close uploaded file", "error", closeErr)
		}
	}()

	audio, err := io.ReadAll(io.LimitReader(file, h.maxAudioBytes+1))
	if err != nil {
		WriteError(w, verrors.NewInvalidRequest("failed to read audio"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	result, err := h.svc.UploadAudio(r.Context(), userID, sessionID, audio, mimeType)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

type parseRequest struct {
	Transcript string `json:"transcript"`
	Timezone   string `json:"timezone,omitempty"`
}

// ParseTranscript runs the inline flow for a transcript the client already
// has in hand.
func (h *VoiceHandler) ParseTranscript(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, verrors.NewInvalidRequest("invalid JSON body"))
		return
	}
	if req.Timezone == "" {
		req.Timezone = r.Header.Get("X-User-Timezone")
	}

	outcome, err := h.svc.ParseTranscript(r.Context(), userID, req.Transcript, req.Timezone)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, outcome)
}

type executeRequest struct {
	CommandID string                 `json:"command_id"`
	Action    *domain.ProposedAction `json:"action,omitempty"`
}

// ExecuteCommand applies a confirmed command at most once.
func (h *VoiceHandler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, verrors.NewInvalidRequest("invalid JSON body"))
		return
	}

	result, err := h.svc.ExecuteCommand(r.Context(), userID, req.CommandID, req.Action)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":         "executed",
		"block_id":       result.BlockID,
		"result_summary": result.Summary,
	})
}

// GetCommand returns the audit record for one command.
func (h *VoiceHandler) GetCommand(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	commandID := chi.URLParam(r, "commandID")

	entry, err := h.svc.GetCommand(r.Context(), userID, commandID)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, entry)
}
