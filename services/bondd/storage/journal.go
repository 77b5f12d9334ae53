package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"bondvault/core/events"
	"bondvault/observability"
)

var (
	// ErrPathRequired is returned when the journal path is missing.
	ErrPathRequired = errors.New("bondd journal path must be configured")
	// ErrNotFound is returned when an entry id is unknown.
	ErrNotFound = errors.New("journal entry not found")
)

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Entry is one persisted ledger notification.
type Entry struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Checksum   string            `json:"checksum"`
	EmittedAt  time.Time         `json:"emitted_at"`
}

// Filter narrows List results. Zero values select everything, newest first,
// capped at 100 rows.
type Filter struct {
	Type   string
	Before int64
	Limit  int
}

// Journal is an append-only audit log of ledger notifications. It satisfies
// events.Emitter so it can be handed straight to the engine.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open initialises the journal using a sqlite-compatible DSN.
func Open(dsn string, logger *slog.Logger) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, now: time.Now}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit implements events.Emitter. Persistence failures are logged and counted
// but never surface to the ledger, whose state change has already committed.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Append(context.Background(), evt); err != nil {
		observability.Events().RecordDropped(evt.EventType())
		j.logger.Error("bondd: journal append failed", "type", evt.EventType(), "error", err)
		return
	}
	observability.Events().RecordEmitted(evt.EventType())
}

// Append persists evt and returns the stored entry.
func (j *Journal) Append(ctx context.Context, evt events.Event) (Entry, error) {
	if j == nil || j.db == nil {
		return Entry{}, fmt.Errorf("journal not configured")
	}
	payload := evt.Event()
	if payload == nil {
		return Entry{}, fmt.Errorf("event %s has no payload", evt.EventType())
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return Entry{}, fmt.Errorf("encode attributes: %w", err)
	}
	entry := Entry{
		ID:         uuid.NewString(),
		Type:       payload.Type,
		Attributes: payload.Attributes,
		Checksum:   checksum(payload.Type, attrs),
		EmittedAt:  j.now().UTC(),
	}
	res, err := j.db.ExecContext(ctx, `
        INSERT INTO bond_events(id, type, attributes, checksum, emitted_at)
        VALUES(?, ?, ?, ?, ?)
    `, entry.ID, entry.Type, string(attrs), entry.Checksum, entry.EmittedAt.UnixNano())
	if err != nil {
		return Entry{}, fmt.Errorf("insert event: %w", err)
	}
	if entry.Seq, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("event sequence: %w", err)
	}
	return entry, nil
}

// Get loads a single entry by id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	row := j.db.QueryRowContext(ctx, `
        SELECT seq, id, type, attributes, checksum, emitted_at
        FROM bond_events WHERE id = ?
    `, strings.TrimSpace(id))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := `SELECT seq, id, type, attributes, checksum, emitted_at FROM bond_events WHERE 1=1`
	var args []any
	if t := strings.TrimSpace(filter.Type); t != "" {
		query += ` AND type = ?`
		args = append(args, t)
	}
	if filter.Before > 0 {
		query += ` AND seq < ?`
		args = append(args, filter.Before)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Verify recomputes the checksum of a stored entry.
func Verify(entry Entry) bool {
	attrs, err := json.Marshal(entry.Attributes)
	if err != nil {
		return false
	}
	return checksum(entry.Type, attrs) == entry.Checksum
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry   Entry
		attrs   string
		emitted int64
	)
	if err := row.Scan(&entry.Seq, &entry.ID, &entry.Type, &attrs, &entry.Checksum, &emitted); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
		return Entry{}, fmt.Errorf("decode attributes: %w", err)
	}
	entry.EmittedAt = time.Unix(0, emitted).UTC()
	return entry, nil
}

func checksum(eventType string, attrs []byte) string {
	buf := make([]byte, 0, len(eventType)+1+len(attrs))
	buf = append(buf, eventType...)
	buf = append(buf, '\n')
	buf = append(buf, attrs...)
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

const schema = `
CREATE TABLE IF NOT EXISTS bond_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    checksum TEXT NOT NULL,
    emitted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bond_events_type ON bond_events(type, seq);
`
