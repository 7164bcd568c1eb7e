package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/codec"
	"qrattend/internal/ledger"
	"qrattend/internal/metrics"
	"qrattend/internal/roster"
)

// Kind classifies what a decoded payload produced.
type Kind string

const (
	// Suppressed means the debouncer swallowed a repeat of the previous
	// payload. No status text should be overwritten for it.
	Suppressed Kind = "suppressed"
	// CheckedIn and CheckedOut mirror the ledger outcomes.
	CheckedIn  Kind = "checked_in"
	CheckedOut Kind = "checked_out"
	// Rejected carries a Reason.
	Rejected Kind = "rejected"
)

// Reason says why a scan was rejected.
type Reason string

const (
	InvalidFormat     Reason = "invalid_format"
	UserNotRegistered Reason = "user_not_registered"
	AlreadyMarked     Reason = "already_marked_twice"
)

// Outcome is the user-facing result of one decoded payload.
type Outcome struct {
	Kind    Kind   `json:"kind"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Time    string `json:"time,omitempty"`
}

// Beeper plays the feedback tone. Implementations must swallow playback
// failures; audio must never abort the scan flow.
type Beeper interface {
	Beep(success bool)
}

// NopBeeper is used where no audio capability exists, such as the HTTP API.
type NopBeeper struct{}

// Beep does nothing.
func (NopBeeper) Beep(bool) {}

// Session wires one decoded payload through debounce, parse, roster lookup
// and the ledger, and turns the result into a status message and tone.
type Session struct {
	ID       string
	debounce Debouncer
	roster   *roster.Roster
	ledger   *ledger.Ledger
	beeper   Beeper
	now      func() time.Time
}

// NewSession creates a scanning session. A nil clock uses time.Now.
func NewSession(d Debouncer, ros *roster.Roster, led *ledger.Ledger, b Beeper, clock func() time.Time) *Session {
	if b == nil {
		b = NopBeeper{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		ID:       uuid.NewString(),
		debounce: d,
		roster:   ros,
		ledger:   led,
		beeper:   b,
		now:      clock,
	}
}

// OnDecoded processes one non-empty decoded payload. The payload must
// already be whitespace-trimmed. A persistence failure aborts the outcome
// and is returned; every other failure mode is a soft rejection that keeps
// the session running.
func (s *Session) OnDecoded(ctx context.Context, payload string) (Outcome, error) {
	now := s.now()
	if !s.debounce.ShouldProcess(ctx, payload, now) {
		return Outcome{Kind: Suppressed}, nil
	}

	regno, err := codec.Parse(payload)
	if err != nil {
		return s.reject(InvalidFormat, "Invalid QR format"), nil
	}

	user, ok := s.roster.Find(regno)
	if !ok {
		return s.reject(UserNotRegistered, "User not registered"), nil
	}

	outcome, err := s.ledger.RecordScan(ctx, regno, now)
	if err != nil {
		metrics.ObservePersistFailure()
		return Outcome{}, fmt.Errorf("record scan: %w", err)
	}

	switch outcome.Kind {
	case ledger.CheckedIn:
		s.beeper.Beep(true)
		metrics.ObserveScan("checked_in")
		return Outcome{
			Kind:    CheckedIn,
			Time:    outcome.Time,
			Message: fmt.Sprintf("Welcome %s - Time: %s", user.FirstName, outcome.Time),
		}, nil
	case ledger.CheckedOut:
		s.beeper.Beep(true)
		metrics.ObserveScan("checked_out")
		return Outcome{
			Kind:    CheckedOut,
			Time:    outcome.Time,
			Message: fmt.Sprintf("Bye %s, have a good day! - Time: %s", user.FirstName, outcome.Time),
		}, nil
	default:
		return s.reject(AlreadyMarked, "Attendance already marked twice today."), nil
	}
}

// Stop tears the session down: the pending debounce cooldown is cancelled so
// the reset timer can never fire against a dead session.
func (s *Session) Stop() {
	s.debounce.Reset()
}

func (s *Session) reject(reason Reason, message string) Outcome {
	s.beeper.Beep(false)
	metrics.ObserveScan(string(reason))
	return Outcome{Kind: Rejected, Reason: reason, Message: message}
}

// ErrCameraUnavailable wraps a capture source failure; the session stops and
// is not retried automatically.
var ErrCameraUnavailable = errors.New("camera unavailable")
