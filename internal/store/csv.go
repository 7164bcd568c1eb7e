// Package store provides the persistence backends for the roster and the
// attendance ledger: flat CSV tables (the default) and Postgres.
package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"qrattend/internal/ledger"
	"qrattend/internal/roster"
)

var (
	userHeader       = []string{"RegNo", "FirstName", "LastName", "Mobile", "BloodGroup", "Department", "Position"}
	attendanceHeader = []string{"RegNo", "Date", "InTime", "OutTime"}
)

// CSV persists the two tables as users.csv and attendance.csv under a data
// directory. Every mutation rewrites the affected table through a temp file
// and rename, so a crash mid-write never leaves a torn table; the write is
// durable before the mutation returns.
type CSV struct {
	mu             sync.Mutex
	usersPath      string
	attendancePath string
}

// NewCSV opens the CSV backend, creating header-only tables when missing.
func NewCSV(dataDir string) (*CSV, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	c := &CSV{
		usersPath:      filepath.Join(dataDir, "users.csv"),
		attendancePath: filepath.Join(dataDir, "attendance.csv"),
	}
	if err := ensureTable(c.usersPath, userHeader); err != nil {
		return nil, err
	}
	if err := ensureTable(c.attendancePath, attendanceHeader); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUsers reads the full users table.
func (c *CSV) LoadUsers(_ context.Context) ([]roster.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := readTable(c.usersPath, len(userHeader))
	if err != nil {
		return nil, err
	}
	users := make([]roster.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, roster.User{
			RegNo:      row[0],
			FirstName:  row[1],
			LastName:   row[2],
			Mobile:     row[3],
			BloodGroup: row[4],
			Department: row[5],
			Position:   row[6],
		})
	}
	return users, nil
}

// InsertUser appends a user row and rewrites the table.
func (c *CSV) InsertUser(_ context.Context, u roster.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := readTable(c.usersPath, len(userHeader))
	if err != nil {
		return err
	}
	rows = append(rows, userRow(u))
	return writeTable(c.usersPath, userHeader, rows)
}

// UpdateUser replaces the row keyed by regno.
func (c *CSV) UpdateUser(_ context.Context, regno string, u roster.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := readTable(c.usersPath, len(userHeader))
	if err != nil {
		return err
	}
	for i, row := range rows {
		if row[0] == regno {
			rows[i] = userRow(u)
			return writeTable(c.usersPath, userHeader, rows)
		}
	}
	return fmt.Errorf("update user %s: %w", regno, roster.ErrNotFound)
}

// DeleteUser removes the row keyed by regno.
func (c *CSV) DeleteUser(_ context.Context, regno string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := readTable(c.usersPath, len(userHeader))
	if err != nil {
		return err
	}
	kept := rows[:0]
	for _, row := range rows {
		if row[0] != regno {
			kept = append(kept, row)
		}
	}
	return writeTable(c.usersPath, userHeader, kept)
}

// LoadRecords reads the full attendance table in file order.
func (c *CSV) LoadRecords(_ context.Context) ([]ledger.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := readTable(c.attendancePath, len(attendanceHeader))
	if err != nil {
		return nil, err
	}
	records := make([]ledger.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, ledger.Record{
			RegNo:   row[0],
			Date:    row[1],
			InTime:  row[2],
			OutTime: row[3],
		})
	}
	return records, nil
}

// AppendRecord adds an attendance row and rewrites the table.
func (c *CSV) AppendRecord(_ context.Context, rec ledger.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := readTable(c.attendancePath, len(attendanceHeader))
	if err != nil {
		return err
	}
	rows = append(rows, []string{rec.RegNo, rec.Date, rec.InTime, rec.OutTime})
	return writeTable(c.attendancePath, attendanceHeader, rows)
}

// CloseSession fills OutTime on the earliest open row for the pair.
func (c *CSV) CloseSession(_ context.Context, regno, date, outTime string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := readTable(c.attendancePath, len(attendanceHeader))
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row[0] == regno && row[1] == date && row[3] == "" {
			row[3] = outTime
			return writeTable(c.attendancePath, attendanceHeader, rows)
		}
	}
	return fmt.Errorf("close session: no open record for %s on %s", regno, date)
}

func userRow(u roster.User) []string {
	return []string{u.RegNo, u.FirstName, u.LastName, u.Mobile, u.BloodGroup, u.Department, u.Position}
}

func ensureTable(path string, header []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return writeTable(path, header, nil)
}

func readTable(path string, width int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = width
	all, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[1:], nil // skip header
}

func writeTable(path string, header []string, rows [][]string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
