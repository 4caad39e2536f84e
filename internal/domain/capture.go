package domain

import "time"

// CaptureSessionTTL is the fixed lifetime of a breakout capture session.
// ExpiresAt is set at creation and never extended.
const CaptureSessionTTL = 10 * time.Minute

// CaptureStatus is the lifecycle state of a breakout capture session.
type CaptureStatus string

const (
	CaptureCreated     CaptureStatus = "created"
	CaptureUploaded    CaptureStatus = "uploaded"
	CaptureTranscribed CaptureStatus = "transcribed"
	CaptureParsed      CaptureStatus = "parsed"
	CaptureExpired     CaptureStatus = "expired"
	CaptureFailed      CaptureStatus = "failed"
)

// Terminal reports whether a session can never change status again.
// transcribed is deliberately not terminal: the upload flow advances it to
// parsed or failed in the same request, and until that write lands the
// session must stay subject to lazy expiry.
func (s CaptureStatus) Terminal() bool {
	switch s {
	case CaptureParsed, CaptureExpired, CaptureFailed:
		return true
	}
	return false
}

// captureTransitions is the allowed-transition table. Any transition not
// listed here is illegal, which keeps states like "parsed with no
// transcript" unrepresentable.
var captureTransitions = map[CaptureStatus][]CaptureStatus{
	CaptureCreated:     {CaptureUploaded, CaptureFailed, CaptureExpired},
	CaptureUploaded:    {CaptureTranscribed, CaptureFailed, CaptureExpired},
	CaptureTranscribed: {CaptureParsed, CaptureFailed, CaptureExpired},
}

// CanTransition reports whether from → to is in the allowed table.
func CanTransition(from, to CaptureStatus) bool {
	for _, next := range captureTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CaptureSession is one breakout capture attempt. Its status advances
// monotonically through the success path created → uploaded → transcribed →
// parsed, with failed and expired as error terminals.
type CaptureSession struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Status       CaptureStatus `json:"status"`
	ReturnURL    string        `json:"return_url,omitempty"`
	Transcript   string        `json:"transcript,omitempty"`
	ParseResult  *ParseResult  `json:"parse_result,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ExpiredAt reports whether the session is past its deadline at now.
func (s *CaptureSession) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// EffectiveStatus evaluates expiry lazily: a session read after ExpiresAt
// reports expired regardless of the stored status, unless a terminal status
// was already reached.
func (s *CaptureSession) EffectiveStatus(now time.Time) CaptureStatus {
	if !s.Status.Terminal() && s.ExpiredAt(now) {
		return CaptureExpired
	}
	return s.Status
}
