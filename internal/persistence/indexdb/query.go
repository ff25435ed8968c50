package indexdb

import (
	"context"
	"database/sql"
	"fmt"
)

type TransitionRow struct {
	At         int64  `json:"at"`
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	From       string `json:"from"`
	To         string `json:"to"`
	Reason     string `json:"reason"`
	Outcome    string `json:"outcome"`
	Remaining  int64  `json:"remaining"`
	Privileged bool   `json:"privileged"`
	Admin      string `json:"admin,omitempty"`
}

type DenialRow struct {
	At      int64  `json:"at"`
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Rule    string `json:"rule"`
	Subject string `json:"subject"`
}

type RuleCount struct {
	Rule  string `json:"rule"`
	Count int64  `json:"count"`
}

// Reader queries an index another process may be writing.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	var v string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&v); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: not a mode index: %w", path, err)
	}
	if v != schemaVersion {
		_ = db.Close()
		return nil, fmt.Errorf("%s: schema version %s, want %s", path, v, schemaVersion)
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// Transitions returns the newest attempts first. An empty user matches all.
func (r *Reader) Transitions(ctx context.Context, user string, limit int) ([]TransitionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT at,user_id,name,from_mode,to_mode,reason,outcome,remaining,privileged,admin
		FROM transitions WHERE (?='' OR user_id=?) ORDER BY at DESC, id DESC LIMIT ?`, user, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransitionRow
	for rows.Next() {
		var t TransitionRow
		var priv int
		if err := rows.Scan(&t.At, &t.UserID, &t.Name, &t.From, &t.To, &t.Reason, &t.Outcome, &t.Remaining, &priv, &t.Admin); err != nil {
			return nil, err
		}
		t.Privileged = priv != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// Denials returns the newest denials first. Empty user or rule match all.
func (r *Reader) Denials(ctx context.Context, user, rule string, limit int) ([]DenialRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT at,user_id,name,rule,subject FROM denials
		WHERE (?='' OR user_id=?) AND (?='' OR rule=?) ORDER BY at DESC, id DESC LIMIT ?`, user, user, rule, rule, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DenialRow
	for rows.Next() {
		var d DenialRow
		if err := rows.Scan(&d.At, &d.UserID, &d.Name, &d.Rule, &d.Subject); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DenialCounts totals denials per rule, most frequent first.
func (r *Reader) DenialCounts(ctx context.Context) ([]RuleCount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT rule, COUNT(*) FROM denials GROUP BY rule ORDER BY COUNT(*) DESC, rule`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RuleCount
	for rows.Next() {
		var c RuleCount
		if err := rows.Scan(&c.Rule, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
