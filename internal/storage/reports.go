package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/appraise/internal/report"
)

const reportColumns = `id, uid, name, status, created_at, expected_value, full_name, fields_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (report.Report, error) {
	var r report.Report
	var createdAt, fieldsJSON string
	if err := row.Scan(&r.ID, &r.UID, &r.Name, &r.Status, &createdAt, &r.ExpectedValue, &r.FullName, &fieldsJSON); err != nil {
		return report.Report{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return report.Report{}, fmt.Errorf("parsing created_at for report %s: %w", r.ID, err)
	}
	r.Timestamp = t

	fields := report.Fields{}
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return report.Report{}, fmt.Errorf("decoding fields for report %s: %w", r.ID, err)
	}
	if len(fields) > 0 {
		r.Fields = fields
	}
	return r, nil
}

// CreateReport inserts r. A zero Timestamp is replaced with the current server
// time; the stored record is returned.
func (s *Store) CreateReport(r report.Report) (report.Report, error) {
	if r.ID == "" {
		return report.Report{}, fmt.Errorf("report id is required")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = report.StatusProcessing
	}
	fields := r.Fields
	if fields == nil {
		fields = report.Fields{}
	}
	for k := range fields {
		if report.IsReserved(k) || k == report.KeyStatus {
			return report.Report{}, fmt.Errorf("field %q: %w", k, ErrReservedField)
		}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return report.Report{}, fmt.Errorf("encoding fields: %w", err)
	}

	ts := r.Timestamp.UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(`
		INSERT INTO reports (id, uid, name, status, created_at, updated_at, expected_value, full_name, fields_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UID, r.Name, r.Status, ts, ts, r.ExpectedValue, r.FullName, string(fieldsJSON),
	)
	if err != nil {
		return report.Report{}, fmt.Errorf("inserting report %s: %w", r.ID, err)
	}

	s.notify(r.UID, r.ID)
	return r, nil
}

func (s *Store) GetReport(id string) (report.Report, error) {
	r, err := scanReport(s.db.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return report.Report{}, ErrNotFound
	}
	if err != nil {
		return report.Report{}, err
	}
	return r, nil
}

// ListReportsByOwner returns every report owned by uid in creation order.
func (s *Store) ListReportsByOwner(uid string) ([]report.Report, error) {
	rows, err := s.db.Query(`SELECT `+reportColumns+` FROM reports WHERE uid = ? ORDER BY rowid ASC`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []report.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// MergeReportFields merges patch into the report's pipeline fields. Nested
// objects merge key by key and every other value replaces the stored one.
// A "status" key updates the lifecycle status; other creation-time keys are
// rejected with ErrReservedField.
func (s *Store) MergeReportFields(id string, patch map[string]any) (report.Report, error) {
	var status *string
	fieldPatch := make(map[string]any, len(patch))
	for k, v := range patch {
		if report.IsReserved(k) {
			return report.Report{}, fmt.Errorf("field %q: %w", k, ErrReservedField)
		}
		if k == report.KeyStatus {
			str, ok := v.(string)
			if !ok || str == "" {
				return report.Report{}, ErrInvalidStatus
			}
			status = &str
			continue
		}
		fieldPatch[k] = v
	}

	tx, err := s.db.Begin()
	if err != nil {
		return report.Report{}, fmt.Errorf("beginning merge transaction: %w", err)
	}
	defer tx.Rollback()

	r, err := scanReport(tx.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return report.Report{}, ErrNotFound
	}
	if err != nil {
		return report.Report{}, err
	}

	fields := map[string]any(r.Fields)
	if fields == nil {
		fields = map[string]any{}
	}
	report.Merge(fields, fieldPatch)
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return report.Report{}, fmt.Errorf("encoding fields: %w", err)
	}
	if status != nil {
		r.Status = *status
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`UPDATE reports SET status = ?, fields_json = ?, updated_at = ? WHERE id = ?`,
		r.Status, string(fieldsJSON), now, id); err != nil {
		return report.Report{}, fmt.Errorf("updating report %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return report.Report{}, fmt.Errorf("committing merge: %w", err)
	}

	if len(fields) > 0 {
		r.Fields = report.Fields(fields)
	}
	s.notify(r.UID, r.ID)
	return r, nil
}
