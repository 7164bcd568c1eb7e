package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"qrattend/internal/ledger"
	"qrattend/internal/roster"
)

func TestNewCSVCreatesHeaderOnlyTables(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCSV(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"users.csv", "attendance.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
	users, err := c.LoadUsers(context.Background())
	if err != nil || len(users) != 0 {
		t.Fatalf("fresh users table = %v, %v", users, err)
	}
	records, err := c.LoadRecords(context.Background())
	if err != nil || len(records) != 0 {
		t.Fatalf("fresh attendance table = %v, %v", records, err)
	}
}

func TestCSVUserMutations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := NewCSV(dir)
	if err != nil {
		t.Fatal(err)
	}

	john := roster.User{
		RegNo: "2024-John_Doe_CS", FirstName: "John", LastName: "Doe",
		Mobile: "12345", BloodGroup: "O+", Department: "CS", Position: "Staff",
	}
	jane := roster.User{
		RegNo: "2024-Jane_Roe_EE", FirstName: "Jane", LastName: "Roe",
		Mobile: "67890", BloodGroup: "AB-", Department: "EE", Position: "Lead",
	}
	if err := c.InsertUser(ctx, john); err != nil {
		t.Fatal(err)
	}
	if err := c.InsertUser(ctx, jane); err != nil {
		t.Fatal(err)
	}

	john.Mobile = "55555"
	if err := c.UpdateUser(ctx, john.RegNo, john); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteUser(ctx, jane.RegNo); err != nil {
		t.Fatal(err)
	}

	// A fresh handle sees the fully persisted state.
	reopened, err := NewCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	users, err := reopened.LoadUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0] != john {
		t.Fatalf("users after reopen = %+v, want just updated John", users)
	}
}

func TestCSVAttendanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := NewCSV(dir)
	if err != nil {
		t.Fatal(err)
	}

	seed := []ledger.Record{
		{RegNo: "2024-John_Doe_CS", Date: "2024-01-09", InTime: "09:00:00", OutTime: "17:00:00"},
		{RegNo: "2024-Jane_Roe_EE", Date: "2024-01-10", InTime: "08:30:00"},
		{RegNo: "2024-John_Doe_CS", Date: "2024-01-10", InTime: "09:15:00"},
	}
	for _, rec := range seed {
		if err := c.AppendRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	reopened, err := NewCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.LoadRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !sameRecords(got, seed) {
		t.Fatalf("reloaded records = %+v, want %+v", got, seed)
	}
}

func TestCSVCloseSessionFillsEarliestOpenRow(t *testing.T) {
	ctx := context.Background()
	c, err := NewCSV(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rows := []ledger.Record{
		{RegNo: "2024-A_B_CS", Date: "2024-01-10", InTime: "08:00:00"},
		{RegNo: "2024-A_B_CS", Date: "2024-01-10", InTime: "08:05:00"},
	}
	for _, rec := range rows {
		if err := c.AppendRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.CloseSession(ctx, "2024-A_B_CS", "2024-01-10", "17:00:00"); err != nil {
		t.Fatal(err)
	}
	got, err := c.LoadRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].OutTime != "17:00:00" {
		t.Errorf("earliest row OutTime = %q, want 17:00:00", got[0].OutTime)
	}
	if got[1].OutTime != "" {
		t.Errorf("later row OutTime = %q, want still open", got[1].OutTime)
	}

	// Closing again targets the remaining open row; a third close has
	// nothing left to close.
	if err := c.CloseSession(ctx, "2024-A_B_CS", "2024-01-10", "18:00:00"); err != nil {
		t.Fatal(err)
	}
	if err := c.CloseSession(ctx, "2024-A_B_CS", "2024-01-10", "19:00:00"); err == nil {
		t.Error("close with no open row should fail")
	}
}

func TestCSVFieldsWithCommasSurvive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := NewCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	u := roster.User{
		RegNo: "2024-Ann_Lee_HR", FirstName: "Ann", LastName: "Lee",
		Mobile: "111", BloodGroup: "A+", Department: "HR", Position: "Lead, Ops",
	}
	if err := c.InsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	users, err := c.LoadUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Position != "Lead, Ops" {
		t.Fatalf("users = %+v, want quoted comma preserved", users)
	}
}

// sameRecords compares record sets ignoring order.
func sameRecords(a, b []ledger.Record) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(r ledger.Record) string { return r.RegNo + "|" + r.Date + "|" + r.InTime + "|" + r.OutTime }
	as := make([]string, len(a))
	bs := make([]string, len(b))
	for i := range a {
		as[i], bs[i] = key(a[i]), key(b[i])
	}
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
