package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qrattend/internal/config"
	"qrattend/internal/ledger"
	"qrattend/internal/roster"
	"qrattend/internal/scan"
	"qrattend/internal/store"
)

// Kiosk runs one scanning session against the shared storage: it polls a
// capture source, pushes decoded payloads through the attendance pipeline,
// and prints the status line a display would show.
//
// The camera and the QR pixel decoder are external capabilities. This binary
// ships with a stand-in: each stdin line is one decoded frame (blank line =
// frame without a code), so it runs without camera hardware.
func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		rosterStore roster.Store
		ledgerStore ledger.Store
	)
	switch cfg.StorageBackend {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres connect failed: %v", err)
		}
		defer pg.Close()
		rosterStore, ledgerStore = pg, pg
	default:
		csvStore, err := store.NewCSV(cfg.DataDir)
		if err != nil {
			log.Fatalf("open data dir failed: %v", err)
		}
		rosterStore, ledgerStore = csvStore, csvStore
	}

	ros, err := roster.New(ctx, rosterStore)
	if err != nil {
		log.Fatalf("load roster failed: %v", err)
	}
	led, err := ledger.New(ctx, ledgerStore)
	if err != nil {
		log.Fatalf("load ledger failed: %v", err)
	}

	var debouncer scan.Debouncer
	if cfg.DebounceBackend == "redis" {
		debouncer = scan.NewRedisDebouncer(store.NewRedis(cfg.RedisAddr).Client, cfg.ScanCooldown)
	} else {
		debouncer = scan.NewMemoryDebouncer(cfg.ScanCooldown)
	}

	session := scan.NewSession(debouncer, ros, led, consoleBeeper{}, nil)
	src := newStdinSource(os.Stdin)
	defer src.Close()

	log.Printf("kiosk session %s started, scan a code (ctrl-d to stop)", session.ID)

	err = session.Run(ctx, src, textDecoder{}, cfg.FramePollInterval, func(o scan.Outcome) {
		log.Println(o.Message)
	})
	switch {
	case err == nil:
		log.Println("scan stopped")
	case errors.Is(err, scan.ErrCameraUnavailable):
		log.Fatalf("capture failed, session stopped: %v", err)
	default:
		log.Fatalf("scan session failed: %v", err)
	}
}

// stdinSource reads one line per frame; EOF ends the session cleanly.
type stdinSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

func newStdinSource(r *os.File) *stdinSource {
	return &stdinSource{scanner: bufio.NewScanner(r), closer: r}
}

func (s *stdinSource) Read() (scan.Frame, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return scan.Frame(s.scanner.Text()), nil
}

func (s *stdinSource) Close() error { return s.closer.Close() }

// textDecoder treats the frame bytes as the decoded QR text.
type textDecoder struct{}

func (textDecoder) Decode(f scan.Frame) (string, bool) {
	if len(f) == 0 {
		return "", false
	}
	return string(f), true
}

// consoleBeeper rings the terminal bell on success and prints a marker on
// rejection. Playback failures are swallowed; audio never aborts a scan.
type consoleBeeper struct{}

func (consoleBeeper) Beep(success bool) {
	if success {
		os.Stdout.WriteString("\a")
		return
	}
	os.Stdout.WriteString("\a\a")
}
