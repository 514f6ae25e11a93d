package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/remoto/internal/history"
)

// DefaultTable is used when the DSN names no table.
const DefaultTable = "remoto_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Options selects the server and destination table.
type Options struct {
	Addr     string // host:port of the native protocol
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(opts Options) (*Sink, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", opts.Table)
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			type String,
			occurred_at DateTime64(6),
			session String,
			service String,
			pid Int64,
			url String,
			error String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, session)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, session, service, pid, url, error) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table)

	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt.UTC(),
		e.Session,
		e.Service,
		int64(e.PID),
		e.URL,
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	query := fmt.Sprintf(`SELECT type, occurred_at, session, service, pid, url, error FROM %s ORDER BY occurred_at DESC LIMIT %d`,
		s.table, history.Limit(limit))
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ClickHouse: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e   history.Event
			typ string
			pid int64
		)
		if err := rows.Scan(&typ, &e.OccurredAt, &e.Session, &e.Service, &pid, &e.URL, &e.Error); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.PID = int(pid)
		out = append(out, e)
	}
	return out, rows.Err()
}
