// Package badgeraudit persists session.AuditRow writes to an embedded
// BadgerDB, grounded on the teacher's internal/v3/store BadgerStore
// (key-prefix-per-entity, JSON-encoded values, db.Update/txn.Set).
package badgeraudit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"gatewayd/internal/session"
)

const keyPrefix = "audit:"

// Sink writes session.AuditRow entries to a Badger database, keyed so a
// scan over keyPrefix+sessionID+"\x00" returns one session's full history
// in append order.
type Sink struct {
	db *badger.DB
}

// Open opens (creating if absent) a Badger database at path.
func Open(path string) (*Sink, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgeraudit: open: %w", err)
	}
	return &Sink{db: db}, nil
}

// Close releases the underlying database.
func (s *Sink) Close() error { return s.db.Close() }

// rowKey orders a session's rows by At, then by write time, so two rows
// written within the same second get distinct keys.
func rowKey(row session.AuditRow) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d%020d", keyPrefix, row.SessionID, row.At, time.Now().UnixNano()))
}

// WriteAudit implements session.AuditSink.
func (s *Sink) WriteAudit(_ context.Context, row session.AuditRow) error {
	buf, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rowKey(row), buf)
	})
}

// ScanSession returns every audit row recorded for sessionID, oldest first.
func (s *Sink) ScanSession(sessionID string) ([]session.AuditRow, error) {
	prefix := []byte(keyPrefix + sessionID + "\x00")
	var out []session.AuditRow
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var row session.AuditRow
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}

var _ session.AuditSink = (*Sink)(nil)
