package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/44xclub/voicesched/internal/domain"
	verrors "github.com/44xclub/voicesched/internal/errors"
	"github.com/44xclub/voicesched/internal/intent"
	"github.com/44xclub/voicesched/internal/store"
	"github.com/44xclub/voicesched/internal/transcribe"
)

// Config holds pipeline-level tuning.
type Config struct {
	SessionTTL          time.Duration
	MaxAudioBytes       int64
	MaxTranscriptChars  int
	DefaultTimezone     string
	DefaultBlockMinutes int
	CaptureBaseURL      string
}

// Service orchestrates the voice command pipeline for both the inline flow
// (audio already in hand) and the poll-based breakout flow.
type Service struct {
	repo        store.Repository
	transcriber transcribe.Transcriber
	parser      intent.Parser
	executor    *Executor
	cfg         Config
	now         func() time.Time
	newID       func() string
}

// NewService wires the pipeline components together.
func NewService(repo store.Repository, transcriber transcribe.Transcriber, parser intent.Parser, cfg Config) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = domain.CaptureSessionTTL
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = transcribe.MaxAudioBytes
	}
	if cfg.MaxTranscriptChars <= 0 {
		cfg.MaxTranscriptChars = 2000
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if cfg.DefaultBlockMinutes <= 0 {
		cfg.DefaultBlockMinutes = 60
	}
	resolver := NewResolver(repo)
	return &Service{
		repo:        repo,
		transcriber: transcriber,
		parser:      parser,
		executor:    NewExecutor(repo, resolver, cfg.DefaultBlockMinutes),
		cfg:         cfg,
		now:         time.Now,
		newID:       newCommandID,
	}
}

// CreatedSession is the response to a breakout capture session creation.
type CreatedSession struct {
	SessionID  string `json:"session_id"`
	CaptureURL string `json:"capture_url"`
	ReturnURL  string `json:"return_url,omitempty"`
	ExpiresAt  int64  `json:"expires_at"`
}

// SessionSnapshot is what a poller sees: the current status with expiry
// recomputed at read time.
type SessionSnapshot struct {
	SessionID    string               `json:"session_id"`
	Status       domain.CaptureStatus `json:"status"`
	Transcript   string               `json:"transcript,omitempty"`
	ParseResult  *domain.ParseResult  `json:"parse_result,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

// ParseOutcome is the result of parsing a transcript on the inline path.
type ParseOutcome struct {
	CommandID          string                `json:"command_id"`
	Action             domain.ProposedAction `json:"proposed_action"`
	Summary            string                `json:"summary"`
	Confidence         float64               `json:"confidence"`
	NeedsClarification bool                  `json:"needs_clarification"`
}

// UploadResult is the synchronous outcome of the breakout upload step.
type UploadResult struct {
	Status     domain.CaptureStatus `json:"status"`
	Transcript string               `json:"transcript"`
	Outcome    *ParseOutcome        `json:"outcome,omitempty"`
}

// CreateSession starts a breakout capture session for the user. The expiry
// is fixed at creation and never extended; returnURL is opaque to this core.
func (s *Service) CreateSession(ctx context.Context, userID, returnURL string) (*CreatedSession, error) {
	if userID == "" {
		return nil, verrors.NewUnauthorized()
	}

	now := s.now()
	session := &domain.CaptureSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    domain.CaptureCreated,
		ReturnURL: returnURL,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateCaptureSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create capture session: %w", err)
	}

	slog.Info("capture session created", "session_id", session.ID, "user_id", userID)
	return &CreatedSession{
		SessionID:  session.ID,
		CaptureURL: strings.TrimRight(s.cfg.CaptureBaseURL, "/") + "/capture/" + session.ID,
		ReturnURL:  returnURL,
		ExpiresAt:  session.ExpiresAt.Unix(),
	}, nil
}

// PollSession returns the current session snapshot without blocking.
// Expiry is evaluated lazily: a read past the deadline reports expired
// regardless of the stored status, and the detection is persisted.
func (s *Service) PollSession(ctx context.Context, userID, sessionID string) (*SessionSnapshot, error) {
	session, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	effective := session.EffectiveStatus(now)
	if effective == domain.CaptureExpired && session.Status != domain.CaptureExpired {
		s.expireSession(ctx, session)
	}

	return &SessionSnapshot{
		SessionID:    session.ID,
		Status:       effective,
		Transcript:   session.Transcript,
		ParseResult:  session.ParseResult,
		ErrorMessage: session.ErrorMessage,
	}, nil
}

// UploadAudio runs the breakout flow for one uploaded audio payload:
// transcription, intent parsing, and command log creation, advancing the
// session state machine at each step. A result that arrives after the
// session deadline is discarded.
func (s *Service) UploadAudio(ctx context.Context, userID, sessionID string, audio []byte, mimeType string) (*UploadResult, error) {
	session, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if session.ExpiredAt(s.now()) {
		s.expireSession(ctx, session)
		return nil, verrors.NewExpired()
	}
	if session.Status != domain.CaptureCreated {
		return nil, verrors.NewConflict(fmt.Sprintf("audio already uploaded (status %s)", session.Status))
	}
	if len(audio) == 0 {
		return nil, verrors.NewInvalidRequest("empty audio payload")
	}
	if int64(len(audio)) > s.cfg.MaxAudioBytes {
		return nil, verrors.NewFileTooLarge(s.cfg.MaxAudioBytes)
	}

	if err := s.repo.TransitionCaptureSession(ctx, session.ID,
		domain.CaptureCreated, domain.CaptureUploaded, store.SessionPatch{}); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return nil, verrors.NewConflict("concurrent upload in progress")
		}
		return nil, fmt.Errorf("mark session uploaded: %w", err)
	}

	transcript, err := s.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		mapped := mapTranscribeError(err)
		s.failSession(ctx, session.ID, domain.CaptureUploaded, mapped.Message)
		return nil, mapped
	}
	if expired, expErr := s.discardIfExpired(ctx, session.ID, domain.CaptureUploaded); expired {
		return nil, expErr
	}

	if err := s.repo.TransitionCaptureSession(ctx, session.ID,
		domain.CaptureUploaded, domain.CaptureTranscribed,
		store.SessionPatch{Transcript: &transcript}); err != nil {
		return nil, fmt.Errorf("mark session transcribed: %w", err)
	}

	outcome, err := s.ParseTranscript(ctx, userID, transcript, "")
	if err != nil {
		mapped := verrors.From(err)
		s.failSession(ctx, session.ID, domain.CaptureTranscribed, mapped.Message)
		return nil, mapped
	}
	if expired, expErr := s.discardIfExpired(ctx, session.ID, domain.CaptureTranscribed); expired {
		// The parse step already appended a proposed entry; a discarded
		// result must not leave it confirmable forever.
		if failErr := s.repo.CompleteCommand(ctx, outcome.CommandID,
			domain.CommandFailed, "", "capture session expired"); failErr != nil {
			slog.Warn("failed to fail command for expired session",
				"error", failErr, "command_id", outcome.CommandID, "session_id", session.ID)
		}
		return nil, expErr
	}

	parseResult := &domain.ParseResult{
		Action:             outcome.Action,
		Confidence:         outcome.Confidence,
		NeedsClarification: outcome.NeedsClarification,
	}
	if err := s.repo.TransitionCaptureSession(ctx, session.ID,
		domain.CaptureTranscribed, domain.CaptureParsed,
		store.SessionPatch{ParseResult: parseResult}); err != nil {
		return nil, fmt.Errorf("mark session parsed: %w", err)
	}

	slog.Info("breakout capture completed",
		"session_id", session.ID, "user_id", userID, "command_id", outcome.CommandID)
	return &UploadResult{
		Status:     domain.CaptureParsed,
		Transcript: transcript,
		Outcome:    outcome,
	}, nil
}

// ParseTranscript runs the inline flow: validate the transcript, ask the
// intent parser for a proposed action, and append a proposed command log
// entry. Execution happens separately, after explicit user confirmation.
func (s *Service) ParseTranscript(ctx context.Context, userID, transcript, timezone string) (*ParseOutcome, error) {
	if userID == "" {
		return nil, verrors.NewUnauthorized()
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, verrors.NewNoSpeech()
	}
	if len(transcript) > s.cfg.MaxTranscriptChars {
		return nil, verrors.NewInvalidRequest(
			fmt.Sprintf("transcript exceeds %d characters", s.cfg.MaxTranscriptChars))
	}

	if timezone == "" {
		timezone = s.cfg.DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, verrors.NewInvalidRequest(fmt.Sprintf("unknown timezone %q", timezone))
	}
	nowLocal := s.now().In(loc).Format("2006-01-02T15:04:05")

	result, err := s.parser.Parse(ctx, transcript, timezone, nowLocal)
	if err != nil {
		return nil, mapParseError(err)
	}

	now := s.now()
	entry := &domain.CommandLogEntry{
		ID:                 s.newID(),
		UserID:             userID,
		RawTranscript:      transcript,
		Action:             result.Action,
		Confidence:         result.Confidence,
		NeedsClarification: result.NeedsClarification,
		Status:             domain.CommandProposed,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreateCommand(ctx, entry); err != nil {
		return nil, fmt.Errorf("record command: %w", err)
	}

	slog.Info("transcript parsed",
		"command_id", entry.ID, "user_id", userID,
		"intent", result.Action.Intent, "confidence", result.Confidence)
	return &ParseOutcome{
		CommandID:          entry.ID,
		Action:             result.Action,
		Summary:            result.Action.Summary(),
		Confidence:         result.Confidence,
		NeedsClarification: result.NeedsClarification,
	}, nil
}

// ExecuteCommand applies a previously proposed command after the user has
// confirmed it. approvedAction may be nil to execute the stored proposal.
func (s *Service) ExecuteCommand(ctx context.Context, userID, commandID string, approvedAction *domain.ProposedAction) (*ExecutionResult, error) {
	if userID == "" {
		return nil, verrors.NewUnauthorized()
	}
	if commandID == "" {
		return nil, verrors.NewInvalidRequest("command_id required")
	}
	return s.executor.Execute(ctx, userID, commandID, approvedAction)
}

// GetCommand returns the audit record for a command owned by the user.
func (s *Service) GetCommand(ctx context.Context, userID, commandID string) (*domain.CommandLogEntry, error) {
	entry, err := s.repo.GetCommand(ctx, commandID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, verrors.NewNotFound("command")
	}
	if err != nil {
		return nil, fmt.Errorf("load command: %w", err)
	}
	if entry.UserID != userID {
		return nil, verrors.NewForbidden()
	}
	return entry, nil
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*domain.CaptureSession, error) {
	if userID == "" {
		return nil, verrors.NewUnauthorized()
	}
	session, err := s.repo.GetCaptureSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, verrors.NewNotFound("capture session")
	}
	if err != nil {
		return nil, fmt.Errorf("load capture session: %w", err)
	}
	if session.UserID != userID {
		slog.Warn("capture session access rejected for non-owner",
			"session_id", sessionID, "user_id", userID)
		return nil, verrors.NewForbidden()
	}
	return session, nil
}

// discardIfExpired checks the deadline after a provider call returns; a
// late result must not advance a session the poller already saw expire.
func (s *Service) discardIfExpired(ctx context.Context, sessionID string, from domain.CaptureStatus) (bool, error) {
	session, err := s.repo.GetCaptureSession(ctx, sessionID)
	if err != nil {
		return false, nil
	}
	if !session.ExpiredAt(s.now()) {
		return false, nil
	}
	if err := s.repo.TransitionCaptureSession(ctx, sessionID,
		from, domain.CaptureExpired, store.SessionPatch{}); err != nil && !errors.Is(err, store.ErrStaleStatus) {
		slog.Warn("failed to persist session expiry", "error", err, "session_id", sessionID)
	}
	return true, verrors.NewExpired()
}

func (s *Service) expireSession(ctx context.Context, session *domain.CaptureSession) {
	err := s.repo.TransitionCaptureSession(ctx, session.ID,
		session.Status, domain.CaptureExpired, store.SessionPatch{})
	if err != nil && !errors.Is(err, store.ErrStaleStatus) {
		slog.Warn("failed to persist session expiry",
			"error", err, "session_id", session.ID)
	}
}

func (s *Service) failSession(ctx context.Context, sessionID string, from domain.CaptureStatus, message string) {
	err := s.repo.TransitionCaptureSession(ctx, sessionID,
		from, domain.CaptureFailed, store.SessionPatch{ErrorMessage: &message})
	if err != nil && !errors.Is(err, store.ErrStaleStatus) {
		slog.Error("failed to mark session failed",
			"error", err, "session_id", sessionID)
	}
}

func mapTranscribeError(err error) *verrors.PipelineError {
	var provErr *transcribe.ProviderError
	switch {
	case errors.Is(err, transcribe.ErrFileTooLarge):
		return verrors.NewFileTooLarge(transcribe.MaxAudioBytes)
	case errors.Is(err, transcribe.ErrNoSpeech):
		return verrors.NewNoSpeech()
	case errors.As(err, &provErr):
		return verrors.NewProvider(fmt.Sprintf("transcription failed (status %d)", provErr.Status))
	case errors.Is(err, context.DeadlineExceeded):
		return verrors.NewProvider("transcription timed out")
	}
	return verrors.NewProvider("transcription failed: " + err.Error())
}

func mapParseError(err error) error {
	var malformed *intent.MalformedResponseError
	var provErr *intent.ProviderError
	switch {
	case errors.As(err, &malformed):
		return verrors.NewUnprocessable(malformed.Error())
	case errors.As(err, &provErr):
		return verrors.NewProvider(fmt.Sprintf("intent parsing failed (status %d)", provErr.Status))
	case errors.Is(err, context.DeadlineExceeded):
		return verrors.NewProvider("intent parsing timed out")
	}
	if pErr, ok := err.(*verrors.PipelineError); ok {
		return pErr
	}
	return verrors.NewProvider("intent parsing failed: " + err.Error())
}

func newCommandID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
