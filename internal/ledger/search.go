package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"qrattend/internal/roster"
)

// Field selects which column a record search compares against. Each field
// carries its own comparison: registration numbers and mobile numbers match
// exactly, names match case-insensitively.
type Field int

const (
	// FieldAny matches every row.
	FieldAny Field = iota
	// FieldRegNo matches the registration number exactly.
	FieldRegNo
	// FieldFirstName matches the roster first name, case-insensitive.
	FieldFirstName
	// FieldLastName matches the roster last name, case-insensitive.
	FieldLastName
	// FieldMobile matches the roster mobile number exactly.
	FieldMobile
)

// ParseField maps the API's field parameter to a Field.
func ParseField(s string) (Field, error) {
	switch s {
	case "":
		return FieldAny, nil
	case "regno":
		return FieldRegNo, nil
	case "first_name":
		return FieldFirstName, nil
	case "last_name":
		return FieldLastName, nil
	case "mobile":
		return FieldMobile, nil
	}
	return FieldAny, fmt.Errorf("unknown search field %q", s)
}

func (f Field) matches(row Row, value string) bool {
	switch f {
	case FieldRegNo:
		return row.RegNo == value
	case FieldFirstName:
		return strings.EqualFold(row.FirstName, value)
	case FieldLastName:
		return strings.EqualFold(row.LastName, value)
	case FieldMobile:
		return row.Mobile == value
	}
	return true
}

// Row is an attendance record joined with the owning user's roster fields
// for display, search and export. Name fields are blank when the user has
// since been deleted from the roster.
type Row struct {
	Record
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Mobile    string `json:"-"`
}

// Search returns the rows matching the field/value filter, joined against
// the roster, newest first (date descending, then in-time descending).
func (l *Ledger) Search(ros *roster.Roster, field Field, value string) []Row {
	var rows []Row
	for _, rec := range l.Records() {
		row := Row{Record: rec}
		if u, ok := ros.Find(rec.RegNo); ok {
			row.FirstName = u.FirstName
			row.LastName = u.LastName
			row.Mobile = u.Mobile
		}
		if field.matches(row, value) {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date > rows[j].Date
		}
		return rows[i].InTime > rows[j].InTime
	})
	return rows
}

// WriteCSV streams rows in the export layout used by the records screen.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"RegNo", "FirstName", "LastName", "Date", "InTime", "OutTime"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{row.RegNo, row.FirstName, row.LastName, row.Date, row.InTime, row.OutTime}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
