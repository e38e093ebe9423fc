// Package audit stores the command audit trail in the audit_logs table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hwsim/internal/dispatch"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one stored audit entry.
type Record struct {
	ID        string         `json:"id"`
	Client    string         `json:"client"`
	Command   string         `json:"command"`
	Device    string         `json:"device,omitempty"`
	Outcome   string         `json:"outcome"`
	Success   bool           `json:"success"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which records List returns. Empty fields match everything.
type Filter struct {
	Client     string
	Command    string
	Device     string
	FailedOnly bool
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult is one page of records, newest first.
type ListResult struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// SQLiteRepository reads and writes audit_logs.
//
// It satisfies dispatch.Auditor and is safe for concurrent use.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db. The audit_logs table
// must already exist (see the migrations package).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordCommand stores a dispatcher entry.
func (r *SQLiteRepository) RecordCommand(ctx context.Context, e dispatch.Entry) error {
	return r.Create(ctx, &Record{
		Client:    e.Client,
		Command:   e.Command,
		Device:    e.Device,
		Outcome:   e.Outcome,
		Success:   e.Success,
		Params:    e.Params,
		CreatedAt: e.Timestamp,
	})
}

// Create inserts rec, filling in ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = "aud-" + uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var params any
	if len(rec.Params) > 0 {
		b, err := json.Marshal(rec.Params)
		if err != nil {
			return fmt.Errorf("marshalling audit params: %w", err)
		}
		params = string(b)
	}

	var device any
	if rec.Device != "" {
		device = rec.Device
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, client, command, device, outcome, success, params, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Client, rec.Command, device, rec.Outcome, rec.Success, params,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// List returns records matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var (
		conditions []string
		args       []any
	)
	for col, v := range map[string]string{"client": filter.Client, "command": filter.Command, "device": filter.Device} {
		if v != "" {
			conditions = append(conditions, col+" = ?")
			args = append(args, v)
		}
	}
	if filter.FailedOnly {
		conditions = append(conditions, "success = 0")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs " + where //nolint:gosec // conditions use placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := "SELECT id, client, command, device, outcome, success, params, created_at FROM audit_logs " + //nolint:gosec // conditions use placeholders
		where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec       Record
		device    sql.NullString
		params    sql.NullString
		createdAt string
	)
	if err := rows.Scan(&rec.ID, &rec.Client, &rec.Command, &device, &rec.Outcome,
		&rec.Success, &params, &createdAt); err != nil {
		return rec, fmt.Errorf("scanning audit log: %w", err)
	}

	rec.Device = device.String
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &rec.Params); err != nil {
			return rec, fmt.Errorf("decoding params of %s: %w", rec.ID, err)
		}
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return rec, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
	}
	rec.CreatedAt = t
	return rec, nil
}
