package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	defaultLimit = 200
	maxLimit     = 10000
)

const schema = `
CREATE TABLE IF NOT EXISTS stage_events (
	event_id        BIGSERIAL PRIMARY KEY,
	ts              TIMESTAMPTZ NOT NULL,
	level           TEXT NOT NULL,
	event           TEXT NOT NULL,
	msg             TEXT,
	fields          JSONB,
	stage_id        TEXT NOT NULL,
	choreography_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_stage_events_ts ON stage_events(ts DESC);
CREATE INDEX IF NOT EXISTS idx_stage_events_stage_event ON stage_events(stage_id, event);
`

const (
	insertEvent = `INSERT INTO stage_events (ts, level, event, msg, fields, stage_id, choreography_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectColumns = `event_id, ts, level, event, msg, fields, stage_id, choreography_id`

	selectLatest = `SELECT ` + selectColumns + `
FROM stage_events WHERE stage_id = $1
ORDER BY ts DESC LIMIT $2`

	// newest matching rows, returned oldest first
	selectNamed = `SELECT ` + selectColumns + ` FROM (
	SELECT * FROM stage_events
	WHERE stage_id = $1 AND event = ANY($2)
	ORDER BY event_id DESC LIMIT $3
) recent ORDER BY event_id ASC`
)

// EventRow is one persisted event.
type EventRow struct {
	EventID        int64                  `json:"event_id"`
	Timestamp      time.Time              `json:"ts"`
	Level          string                 `json:"level"`
	Event          string                 `json:"event"`
	Message        *string                `json:"msg,omitempty"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
	StageID        string                 `json:"stage_id"`
	ChoreographyID *string                `json:"choreography_id,omitempty"`
}

// Client appends and reads one stage's events.
type Client struct {
	db      *sql.DB
	stageID string
}

// New connects using the PG* environment and ensures the schema exists.
func New(stageID string) (*Client, error) {
	connector, err := pq.NewConnector(ConnString())
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create stage_events: %w", err)
	}
	return &Client{db: db, stageID: stageID}, nil
}

// ConnString builds a libpq keyword string from PGHOST, PGPORT, PGUSER,
// PGDATABASE, PGSSLMODE, PGCONNECT_TIMEOUT and PGPASSWORD.
func ConnString() string {
	parts := []string{
		"host=" + envOr("PGHOST", "127.0.0.1"),
		"port=" + envOr("PGPORT", "5432"),
		"user=" + envOr("PGUSER", "linkstage"),
		"dbname=" + envOr("PGDATABASE", "linkstage"),
		"sslmode=" + envOr("PGSSLMODE", "disable"),
		"connect_timeout=" + envOr("PGCONNECT_TIMEOUT", "5"),
	}
	if pw := os.Getenv("PGPASSWORD"); pw != "" {
		parts = append(parts, "password="+quoteValue(pw))
	}
	return strings.Join(parts, " ")
}

// quoteValue single-quotes v, escaping quotes and backslashes.
func quoteValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Append stores one event under the client's stage. ctx bounds the insert.
func (c *Client) Append(ctx context.Context, ts time.Time, level, event, msg string, fields map[string]interface{}, choreographyID string) error {
	var raw []byte
	if fields != nil {
		var err error
		if raw, err = json.Marshal(fields); err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
	}
	_, err := c.db.ExecContext(ctx, insertEvent, ts, level, event, nullable(msg), raw, c.stageID, nullable(choreographyID))
	return err
}

// Query returns the newest limit events, newest first.
func (c *Client) Query(limit int) ([]EventRow, error) {
	rows, err := c.db.Query(selectLatest, c.stageID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// QueryNamed returns the newest limit events named in names, oldest first,
// for replaying chain mutations on startup.
func (c *Client) QueryNamed(names []string, limit int) ([]EventRow, error) {
	rows, err := c.db.Query(selectNamed, c.stageID, pq.Array(names), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}

func scanRows(rows *sql.Rows) ([]EventRow, error) {
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var (
			e         EventRow
			raw       []byte
			msg, chID sql.NullString
		)
		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &raw, &e.StageID, &chID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if chID.Valid {
			e.ChoreographyID = &chID.String
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Fields); err != nil {
				return nil, fmt.Errorf("event %d fields: %w", e.EventID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *Client) Ping() error { return c.db.Ping() }

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
