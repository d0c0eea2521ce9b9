// Package pgcatalog implements catalog.Catalog on Postgres via pgx,
// grounded on the storage patterns used across the retrieval pack
// (pgxpool.Pool, parameterized queries, COALESCE for optional columns).
package pgcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gatewayd/internal/catalog"
)

// Store is a Postgres-backed catalog.Catalog.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and returns a ready Store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgcatalog: parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgcatalog: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgcatalog: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

const channelColumns = `id, number, name, enabled, COALESCE(logo_url, ''), COALESCE(epg_key, '')`

func scanChannel(row pgx.Row) (*catalog.Channel, error) {
	var ch catalog.Channel
	err := row.Scan(&ch.ID, &ch.Number, &ch.Name, &ch.Enabled, &ch.LogoURL, &ch.EPGKey)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return &ch, nil
}

func (s *Store) GetChannelByID(ctx context.Context, id string) (*catalog.Channel, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
	return scanChannel(row)
}

func (s *Store) GetChannelByNumber(ctx context.Context, number int) (*catalog.Channel, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE number = $1`, number)
	return scanChannel(row)
}

func (s *Store) ListChannels(ctx context.Context) ([]*catalog.Channel, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*catalog.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

const streamColumns = `id, channel_id, url, backup_urls, protocol,
	auth_username, auth_password, request_headers, protocol_opts, enabled`

func scanStream(row pgx.Row) (*catalog.Stream, error) {
	var st catalog.Stream
	var protocol string
	var authUser, authPass pgxText
	var headersJSON, optsJSON []byte

	err := row.Scan(&st.ID, &st.ChannelID, &st.URL, &st.BackupURLs, &protocol,
		&authUser, &authPass, &headersJSON, &optsJSON, &st.Enabled)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	st.Protocol = catalog.Protocol(protocol)
	if authUser.Valid || authPass.Valid {
		st.Auth = &catalog.BasicAuth{Username: authUser.String, Password: authPass.String}
	}
	if len(headersJSON) > 0 {
		_ = json.Unmarshal(headersJSON, &st.RequestHeaders)
	}
	if len(optsJSON) > 0 {
		_ = json.Unmarshal(optsJSON, &st.ProtocolOpts)
	}
	return &st, nil
}

func (s *Store) GetStreamByID(ctx context.Context, id string) (*catalog.Stream, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)
	return scanStream(row)
}

func (s *Store) GetStreamForChannel(ctx context.Context, channelID string) (*catalog.Stream, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE channel_id = $1 AND enabled ORDER BY id LIMIT 1`, channelID)
	return scanStream(row)
}

// pgxText mirrors sql.NullString without importing database/sql, since
// pgx scans directly into it via its own Scan-compatible interface.
type pgxText struct {
	String string
	Valid  bool
}

func (t *pgxText) Scan(src any) error {
	if src == nil {
		t.String, t.Valid = "", false
		return nil
	}
	switch v := src.(type) {
	case string:
		t.String, t.Valid = v, true
	case []byte:
		t.String, t.Valid = string(v), true
	default:
		return fmt.Errorf("pgcatalog: unsupported scan type %T", src)
	}
	return nil
}

var _ catalog.Catalog = (*Store)(nil)
