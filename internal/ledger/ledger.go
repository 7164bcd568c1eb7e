// Package ledger holds the attendance table and the check-in/check-out state
// machine. For each (registration number, date) pair a scan either opens a
// session, closes the open one, or is rejected once the day is complete.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Date and time-of-day layouts used throughout the persisted tables.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Record is one check-in/check-out session. An empty OutTime means the
// session is still open.
type Record struct {
	RegNo   string `json:"reg_no"`
	Date    string `json:"date"`
	InTime  string `json:"in_time"`
	OutTime string `json:"out_time"`
}

// Open reports whether the session has no check-out yet.
func (r Record) Open() bool { return r.OutTime == "" }

// Kind classifies the result of a scan against the ledger.
type Kind int

const (
	// CheckedIn means a new session was opened.
	CheckedIn Kind = iota
	// CheckedOut means the open session was closed.
	CheckedOut
	// AlreadyMarked means the day already has a completed session and the
	// scan was rejected without mutation.
	AlreadyMarked
)

// Outcome is the ledger's answer to a scan.
type Outcome struct {
	Kind Kind
	// Time is the stamped time of day for CheckedIn and CheckedOut.
	Time string
}

// Store persists ledger mutations. A mutation must be durable before the
// corresponding Outcome is surfaced to the caller.
type Store interface {
	LoadRecords(ctx context.Context) ([]Record, error)
	AppendRecord(ctx context.Context, rec Record) error
	// CloseSession sets the out time on the earliest open record for the
	// (regno, date) pair.
	CloseSession(ctx context.Context, regno, date, outTime string) error
}

// Ledger is the in-memory attendance table, write-through to its Store.
// All access is serialized; a scan's mutation and persistence complete
// before the next scan for the same pair can be accepted.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	records []Record
}

// New loads the ledger from the store.
func New(ctx context.Context, store Store) (*Ledger, error) {
	records, err := store.LoadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	return &Ledger{store: store, records: records}, nil
}

// RecordScan applies one scan for a registered user at the given instant.
// Dates group on the local calendar day of now. On a persistence failure the
// in-memory table is restored to its pre-scan state and the error is
// returned; no outcome is committed.
func (l *Ledger) RecordScan(ctx context.Context, regno string, now time.Time) (Outcome, error) {
	date := now.Local().Format(DateLayout)
	stamp := now.Local().Format(TimeLayout)

	l.mu.Lock()
	defer l.mu.Unlock()

	open, seen := -1, false
	for i, rec := range l.records {
		if rec.RegNo != regno || rec.Date != date {
			continue
		}
		seen = true
		if rec.Open() {
			open = i
			break // earliest open row wins
		}
	}

	switch {
	case !seen:
		rec := Record{RegNo: regno, Date: date, InTime: stamp}
		l.records = append(l.records, rec)
		if err := l.store.AppendRecord(ctx, rec); err != nil {
			l.records = l.records[:len(l.records)-1]
			return Outcome{}, fmt.Errorf("persist check-in: %w", err)
		}
		return Outcome{Kind: CheckedIn, Time: stamp}, nil

	case open >= 0:
		l.records[open].OutTime = stamp
		if err := l.store.CloseSession(ctx, regno, date, stamp); err != nil {
			l.records[open].OutTime = ""
			return Outcome{}, fmt.Errorf("persist check-out: %w", err)
		}
		return Outcome{Kind: CheckedOut, Time: stamp}, nil

	default:
		return Outcome{Kind: AlreadyMarked}, nil
	}
}

// Records returns a copy of every attendance row in insertion order.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
