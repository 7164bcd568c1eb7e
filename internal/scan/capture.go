package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Frame is raw data read from a capture source. The session never inspects
// it; only the Decoder does.
type Frame []byte

// Source supplies frames from a camera or stand-in device.
type Source interface {
	// Read blocks for the next frame. io.EOF means the source is
	// exhausted and the session should end cleanly; any other error is a
	// camera failure.
	Read() (Frame, error)
	Close() error
}

// Decoder extracts QR text from a frame. ok is false when the frame holds no
// code.
type Decoder interface {
	Decode(Frame) (payload string, ok bool)
}

// Run polls the source until the context is cancelled, the source is
// exhausted, or a hard failure occurs, feeding each decoded payload through
// the session. Outcomes other than Suppressed are delivered to onStatus.
// The debounce state is always reset before Run returns, so no cooldown
// timer outlives the session.
func (s *Session) Run(ctx context.Context, src Source, dec Decoder, pollInterval time.Duration, onStatus func(Outcome)) error {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Millisecond
	}
	defer s.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, err := src.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
		}

		payload, ok := dec.Decode(frame)
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}

		outcome, err := s.OnDecoded(ctx, payload)
		if err != nil {
			return err
		}
		if outcome.Kind != Suppressed && onStatus != nil {
			onStatus(outcome)
		}
	}
}
