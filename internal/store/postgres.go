package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"qrattend/internal/ledger"
	"qrattend/internal/roster"
)

// Postgres persists the roster and attendance tables in Postgres via pgx.
// Mutations are row-level and committed before they return, which satisfies
// the same write-through guarantee as the CSV backend.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection, applies the schema, and returns the store.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		reg_no      TEXT PRIMARY KEY,
		first_name  TEXT NOT NULL,
		last_name   TEXT NOT NULL,
		mobile      TEXT NOT NULL,
		blood_group TEXT NOT NULL,
		department  TEXT NOT NULL,
		position    TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id         TEXT PRIMARY KEY,
		reg_no     TEXT NOT NULL,
		date       TEXT NOT NULL,
		in_time    TEXT NOT NULL,
		out_time   TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_pair ON attendance (reg_no, date);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// LoadUsers returns all users in creation order.
func (p *Postgres) LoadUsers(ctx context.Context) ([]roster.User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT reg_no, first_name, last_name, mobile, blood_group, department, position
		FROM users
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []roster.User
	for rows.Next() {
		var u roster.User
		if err := rows.Scan(&u.RegNo, &u.FirstName, &u.LastName, &u.Mobile, &u.BloodGroup, &u.Department, &u.Position); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// InsertUser writes a new user row.
func (p *Postgres) InsertUser(ctx context.Context, u roster.User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (reg_no, first_name, last_name, mobile, blood_group, department, position)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, u.RegNo, u.FirstName, u.LastName, u.Mobile, u.BloodGroup, u.Department, u.Position)
	return err
}

// UpdateUser replaces the row keyed by regno, renaming it when the derived
// registration number changed.
func (p *Postgres) UpdateUser(ctx context.Context, regno string, u roster.User) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET reg_no = $2, first_name = $3, last_name = $4, mobile = $5,
		    blood_group = $6, department = $7, position = $8
		WHERE reg_no = $1
	`, regno, u.RegNo, u.FirstName, u.LastName, u.Mobile, u.BloodGroup, u.Department, u.Position)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update user %s: %w", regno, roster.ErrNotFound)
	}
	return nil
}

// DeleteUser removes the row keyed by regno.
func (p *Postgres) DeleteUser(ctx context.Context, regno string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE reg_no = $1`, regno)
	return err
}

// LoadRecords returns all attendance rows in insertion order.
func (p *Postgres) LoadRecords(ctx context.Context) ([]ledger.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT reg_no, date, in_time, out_time
		FROM attendance
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []ledger.Record
	for rows.Next() {
		var rec ledger.Record
		if err := rows.Scan(&rec.RegNo, &rec.Date, &rec.InTime, &rec.OutTime); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendRecord writes a new attendance row.
func (p *Postgres) AppendRecord(ctx context.Context, rec ledger.Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance (id, reg_no, date, in_time, out_time)
		VALUES ($1,$2,$3,$4,$5)
	`, uuid.NewString(), rec.RegNo, rec.Date, rec.InTime, rec.OutTime)
	return err
}

// CloseSession fills out_time on the earliest open row for the pair.
func (p *Postgres) CloseSession(ctx context.Context, regno, date, outTime string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance
		SET out_time = $3
		WHERE id = (
			SELECT id FROM attendance
			WHERE reg_no = $1 AND date = $2 AND out_time = ''
			ORDER BY created_at, id
			LIMIT 1
		)
	`, regno, date, outTime)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("close session: no open record for %s on %s", regno, date)
	}
	return nil
}
