package scan_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"qrattend/internal/ledger"
	"qrattend/internal/roster"
	"qrattend/internal/scan"
)

// ---------- Mocks ----------

type memStore struct {
	users   []roster.User
	records []ledger.Record

	appendErr error
}

func (m *memStore) LoadUsers(context.Context) ([]roster.User, error) { return m.users, nil }

func (m *memStore) InsertUser(_ context.Context, u roster.User) error {
	m.users = append(m.users, u)
	return nil
}

func (m *memStore) UpdateUser(_ context.Context, regno string, u roster.User) error {
	for i := range m.users {
		if m.users[i].RegNo == regno {
			m.users[i] = u
			return nil
		}
	}
	return roster.ErrNotFound
}

func (m *memStore) DeleteUser(_ context.Context, regno string) error {
	for i := range m.users {
		if m.users[i].RegNo == regno {
			m.users = append(m.users[:i], m.users[i+1:]...)
			return nil
		}
	}
	return roster.ErrNotFound
}

func (m *memStore) LoadRecords(context.Context) ([]ledger.Record, error) { return m.records, nil }

func (m *memStore) AppendRecord(_ context.Context, rec ledger.Record) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) CloseSession(_ context.Context, regno, date, outTime string) error {
	for i := range m.records {
		if m.records[i].RegNo == regno && m.records[i].Date == date && m.records[i].OutTime == "" {
			m.records[i].OutTime = outTime
			return nil
		}
	}
	return errors.New("no open record")
}

type toneRecorder struct {
	tones []bool
}

func (b *toneRecorder) Beep(success bool) { b.tones = append(b.tones, success) }

type fixture struct {
	session *scan.Session
	ledger  *ledger.Ledger
	beeper  *toneRecorder
	clock   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := &memStore{users: []roster.User{
		{RegNo: "2024-John_Doe_CS", FirstName: "John", LastName: "Doe"},
	}}
	ros, err := roster.New(ctx, st)
	if err != nil {
		t.Fatal(err)
	}
	led, err := ledger.New(ctx, st)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.Local)
	beeper := &toneRecorder{}
	session := scan.NewSession(scan.NewMemoryDebouncer(2*time.Second), ros, led, beeper, func() time.Time { return now })
	t.Cleanup(session.Stop)
	return &fixture{session: session, ledger: led, beeper: beeper, clock: &now}
}

// ---------- Tests ----------

func TestScanDayLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.session.OnDecoded(ctx, "2024-John_Doe_CS")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != scan.CheckedIn {
		t.Fatalf("first scan = %+v, want CheckedIn", out)
	}
	if out.Message != "Welcome John - Time: 09:00:00" {
		t.Fatalf("message = %q", out.Message)
	}

	// The code is still in front of the camera: repeats inside the
	// cooldown are no-ops and leave the ledger untouched.
	before := f.ledger.Records()
	out, err = f.session.OnDecoded(ctx, "2024-John_Doe_CS")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != scan.Suppressed {
		t.Fatalf("repeat = %+v, want Suppressed", out)
	}
	if after := f.ledger.Records(); len(after) != len(before) || after[0] != before[0] {
		t.Fatal("suppressed scan mutated the ledger")
	}

	// End of day: cooldown long expired.
	*f.clock = f.clock.Add(8 * time.Hour)
	out, err = f.session.OnDecoded(ctx, "2024-John_Doe_CS")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != scan.CheckedOut {
		t.Fatalf("checkout scan = %+v, want CheckedOut", out)
	}
	if out.Message != "Bye John, have a good day! - Time: 17:00:00" {
		t.Fatalf("message = %q", out.Message)
	}

	*f.clock = f.clock.Add(time.Hour)
	out, err = f.session.OnDecoded(ctx, "2024-John_Doe_CS")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != scan.Rejected || out.Reason != scan.AlreadyMarked {
		t.Fatalf("third scan = %+v, want Rejected/AlreadyMarked", out)
	}

	wantTones := []bool{true, true, false}
	if len(f.beeper.tones) != len(wantTones) {
		t.Fatalf("tones = %v, want %v", f.beeper.tones, wantTones)
	}
	for i, tone := range wantTones {
		if f.beeper.tones[i] != tone {
			t.Fatalf("tones = %v, want %v", f.beeper.tones, wantTones)
		}
	}
}

func TestScanInvalidFormat(t *testing.T) {
	f := newFixture(t)
	out, err := f.session.OnDecoded(context.Background(), "notaqrcode")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != scan.Rejected || out.Reason != scan.InvalidFormat {
		t.Fatalf("outcome = %+v, want Rejected/InvalidFormat", out)
	}
	if len(f.ledger.Records()) != 0 {
		t.Fatal("invalid payload mutated the ledger")
	}
}

func TestScanUnregisteredUser(t *testing.T) {
	f := newFixture(t)
	out, err := f.session.OnDecoded(context.Background(), "2024-Jane_Roe_EE")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != scan.Rejected || out.Reason != scan.UserNotRegistered {
		t.Fatalf("outcome = %+v, want Rejected/UserNotRegistered", out)
	}
	if len(f.ledger.Records()) != 0 {
		t.Fatal("unregistered scan mutated the ledger")
	}
}

func TestScanPersistFailureIsHard(t *testing.T) {
	ctx := context.Background()
	st := &memStore{
		users:     []roster.User{{RegNo: "2024-John_Doe_CS", FirstName: "John"}},
		appendErr: errors.New("disk full"),
	}
	ros, _ := roster.New(ctx, st)
	led, _ := ledger.New(ctx, st)
	beeper := &toneRecorder{}
	session := scan.NewSession(scan.NewMemoryDebouncer(0), ros, led, beeper, nil)
	defer session.Stop()

	if _, err := session.OnDecoded(ctx, "2024-John_Doe_CS"); err == nil {
		t.Fatal("want hard error from failed persist")
	}
	if len(beeper.tones) != 0 {
		t.Fatal("no tone should play for an aborted outcome")
	}
}

// ---------- Capture loop ----------

type scriptedSource struct {
	frames []string
	err    error
	pos    int
}

func (s *scriptedSource) Read() (scan.Frame, error) {
	if s.pos >= len(s.frames) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return scan.Frame(f), nil
}

func (s *scriptedSource) Close() error { return nil }

type textDecoder struct{}

func (textDecoder) Decode(f scan.Frame) (string, bool) {
	if len(f) == 0 {
		return "", false
	}
	return string(f), true
}

func TestRunProcessesDecodedFrames(t *testing.T) {
	f := newFixture(t)
	src := &scriptedSource{frames: []string{
		"",                  // frame without a code
		"2024-John_Doe_CS",  // check-in
		"2024-John_Doe_CS",  // still in view: suppressed, no status
		"  2024-Jane_Roe_EE  ", // trimmed, then rejected
	}}

	var outcomes []scan.Outcome
	err := f.session.Run(context.Background(), src, textDecoder{}, time.Millisecond, func(o scan.Outcome) {
		outcomes = append(outcomes, o)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2 (suppressed scans produce none): %+v", len(outcomes), outcomes)
	}
	if outcomes[0].Kind != scan.CheckedIn {
		t.Errorf("first outcome = %+v, want CheckedIn", outcomes[0])
	}
	if outcomes[1].Reason != scan.UserNotRegistered {
		t.Errorf("second outcome = %+v, want UserNotRegistered", outcomes[1])
	}
}

func TestRunStopsOnCameraFailure(t *testing.T) {
	f := newFixture(t)
	src := &scriptedSource{frames: []string{"2024-John_Doe_CS"}, err: errors.New("read failed")}

	err := f.session.Run(context.Background(), src, textDecoder{}, time.Millisecond, nil)
	if !errors.Is(err, scan.ErrCameraUnavailable) {
		t.Fatalf("err = %v, want ErrCameraUnavailable", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// An already-cancelled context must return promptly and cleanly.
	if err := f.session.Run(ctx, &scriptedSource{}, textDecoder{}, time.Minute, nil); err != nil {
		t.Fatalf("cancelled run returned %v", err)
	}
}
