package users

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Exportable field identifiers, in canonical column order.
var exportFields = []string{"id", "name", "email", "role", "createdAt", "lastSignIn"}

// DefaultExportFields are used when the caller selects nothing.
var DefaultExportFields = []string{"name", "email", "role"}

// ExportCSV writes the selected user fields as CSV. Unknown field ids are an
// error so a typo can't silently drop a column.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, fields []string) error {
	if len(fields) == 0 {
		fields = DefaultExportFields
	}
	for _, f := range fields {
		if !isExportField(f) {
			return fmt.Errorf("users: unknown export field %q", f)
		}
	}

	list, err := s.repo.ListUsers(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(fields); err != nil {
		return err
	}
	for _, user := range list {
		record := make([]string, len(fields))
		for i, f := range fields {
			record[i] = exportValue(user, f)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ImportRowError describes one rejected CSV row.
type ImportRowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ImportResult summarizes a CSV import. Valid rows are applied even when other
// rows fail.
type ImportResult struct {
	Imported int              `json:"imported"`
	Errors   []ImportRowError `json:"errors,omitempty"`
}

// ImportCSV creates accounts from rows of name,email,role. Imported accounts
// get a random initial password; users reset it through the usual flow.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return ImportResult{}, fmt.Errorf("users: read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"name", "email", "role"} {
		if _, ok := cols[required]; !ok {
			return ImportResult{}, fmt.Errorf("users: csv missing %q column", required)
		}
	}

	var result ImportResult
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, ImportRowError{Line: line, Message: "malformed row"})
			continue
		}

		input := CreateUserInput{
			Name:     field(record, cols["name"]),
			Email:    field(record, cols["email"]),
			Role:     field(record, cols["role"]),
			Password: uuid.NewString(),
		}
		if _, err := s.CreateUser(ctx, input); err != nil {
			result.Errors = append(result.Errors, ImportRowError{Line: line, Message: err.Error()})
			continue
		}
		result.Imported++
	}
	return result, nil
}

func isExportField(f string) bool {
	for _, known := range exportFields {
		if f == known {
			return true
		}
	}
	return false
}

func exportValue(user User, field string) string {
	switch field {
	case "id":
		return user.ID
	case "name":
		return user.Name
	case "email":
		return user.Email
	case "role":
		return string(user.Role)
	case "createdAt":
		return user.CreatedAt.Format(time.RFC3339)
	case "lastSignIn":
		if user.LastSignInAt == nil {
			return ""
		}
		return user.LastSignInAt.Format(time.RFC3339)
	}
	return ""
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
