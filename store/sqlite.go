package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/liveness"
	"github.com/opd-ai/walletchat/messaging"
)

// DefaultDBFileName is the SQLite file created under a data directory.
const DefaultDBFileName = "chat.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  seq          INTEGER PRIMARY KEY AUTOINCREMENT,
  message_id   BLOB NOT NULL UNIQUE,
  address      BLOB NOT NULL,
  direction    TEXT NOT NULL CHECK(direction IN ('inbound','outbound')),
  body         BLOB NOT NULL,
  stored_at    INTEGER NOT NULL,
  delivered_at INTEGER,
  read_at      INTEGER,
  sealed       INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS message_metadata (
  message_id BLOB NOT NULL REFERENCES messages(message_id) ON DELETE CASCADE,
  position   INTEGER NOT NULL,
  type       TEXT NOT NULL CHECK(type IN ('reply','token_request','gif','link')),
  data       BLOB,
  PRIMARY KEY (message_id, position)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_address_time
ON messages (address, stored_at, seq);
`,
	`
CREATE TABLE IF NOT EXISTS contacts (
  address    BLOB PRIMARY KEY,
  status     TEXT NOT NULL CHECK(status IN ('never_seen','online','offline','banned')),
  last_seen  INTEGER,
  created_at INTEGER NOT NULL
);
`,
}

// SQLiteBackend persists history and contacts in a SQLite database.
type SQLiteBackend struct {
	db        *sql.DB
	closeOnce sync.Once
}

// OpenDir opens (or creates) chat.db under dataDir.
func OpenDir(dataDir string) (*SQLiteBackend, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", errors.Wrap(err, "create storage directory")
	}
	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	b, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, "", err
	}
	return b, dbPath, nil
}

// OpenSQLite opens the database at dbPath and applies schema migrations.
func OpenSQLite(dbPath string) (*SQLiteBackend, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite database")
	}

	b := &SQLiteBackend{db: db}
	if err := b.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := b.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenSQLite",
		"path":     dbPath,
	}).Info("Opened chat database")
	return b, nil
}

func (b *SQLiteBackend) applyMigrations() error {
	var version int
	if err := b.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := b.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin migration transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return errors.Wrapf(err, "apply migration %d", i+1)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return errors.Wrapf(err, "set schema version %d", i+1)
		}
	}
	return errors.Wrap(tx.Commit(), "commit migration transaction")
}

func (b *SQLiteBackend) enableWALMode() error {
	var journalMode string
	if err := b.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if !strings.EqualFold(journalMode, "wal") {
		return errors.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

// SaveMessage inserts a message and its metadata in one transaction.
func (b *SQLiteBackend) SaveMessage(ctx context.Context, rec messaging.Record) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin save transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (
			message_id,
			address,
			direction,
			body,
			stored_at,
			delivered_at,
			read_at,
			sealed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID[:],
		rec.Address,
		rec.Direction.String(),
		rec.Body,
		rec.StoredAt.UnixMilli(),
		nullMillis(rec.DeliveredAt),
		nullMillis(rec.ReadAt),
		boolInt(rec.Sealed),
	)
	if err != nil {
		return errors.Wrapf(err, "insert message %s", rec.ID)
	}

	for i, md := range rec.Metadata {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO message_metadata (message_id, position, type, data) VALUES (?, ?, ?, ?)`,
			rec.ID[:], i, md.Type.String(), md.Data,
		)
		if err != nil {
			return errors.Wrapf(err, "insert metadata %d of message %s", i, rec.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "commit save transaction")
}

// UpdateConfirmations overwrites the confirmation timestamps of a message.
func (b *SQLiteBackend) UpdateConfirmations(ctx context.Context, id messaging.MessageID, deliveredAt, readAt time.Time) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE messages SET delivered_at = ?, read_at = ? WHERE message_id = ?`,
		nullMillis(deliveredAt), nullMillis(readAt), id[:],
	)
	if err != nil {
		return errors.Wrapf(err, "update confirmations of %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Errorf("message %s not persisted", id)
	}
	return nil
}

// LoadMessages returns every persisted message in insertion order.
func (b *SQLiteBackend) LoadMessages(ctx context.Context) ([]messaging.Record, error) {
	metadata, err := b.loadMetadata(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT
			message_id,
			address,
			direction,
			body,
			stored_at,
			delivered_at,
			read_at,
			sealed
		FROM messages
		ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	records := make([]messaging.Record, 0)
	for rows.Next() {
		var (
			rawID       []byte
			rec         messaging.Record
			direction   string
			storedAt    int64
			deliveredAt sql.NullInt64
			readAt      sql.NullInt64
			sealed      int
		)
		if err := rows.Scan(&rawID, &rec.Address, &direction, &rec.Body, &storedAt, &deliveredAt, &readAt, &sealed); err != nil {
			return nil, errors.Wrap(err, "scan message row")
		}
		id, err := messaging.MessageIDFromBytes(rawID)
		if err != nil {
			return nil, errors.Wrap(err, "scan message row")
		}
		rec.ID = id
		rec.Direction = parseDirection(direction)
		rec.StoredAt = time.UnixMilli(storedAt).UTC()
		rec.DeliveredAt = fromNullMillis(deliveredAt)
		rec.ReadAt = fromNullMillis(readAt)
		rec.Sealed = sealed != 0
		rec.Metadata = metadata[id]
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate message rows")
	}
	return records, nil
}

func (b *SQLiteBackend) loadMetadata(ctx context.Context) (map[messaging.MessageID][]messaging.Metadata, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT message_id, type, data FROM message_metadata ORDER BY message_id, position ASC`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query metadata")
	}
	defer rows.Close()

	out := make(map[messaging.MessageID][]messaging.Metadata)
	for rows.Next() {
		var (
			rawID []byte
			typ   string
			data  []byte
		)
		if err := rows.Scan(&rawID, &typ, &data); err != nil {
			return nil, errors.Wrap(err, "scan metadata row")
		}
		id, err := messaging.MessageIDFromBytes(rawID)
		if err != nil {
			return nil, errors.Wrap(err, "scan metadata row")
		}
		if len(data) == 0 {
			data = nil
		}
		out[id] = append(out[id], messaging.Metadata{Type: parseMetadataType(typ), Data: data})
	}
	return out, errors.Wrap(rows.Err(), "iterate metadata rows")
}

// SaveContact inserts or replaces a contact record.
func (b *SQLiteBackend) SaveContact(ctx context.Context, contact liveness.Data) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO contacts (address, status, last_seen, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			status = excluded.status,
			last_seen = excluded.last_seen`,
		contact.Address.Bytes(),
		contact.Status.String(),
		nullMillis(contact.LastSeen),
		contact.CreatedAt.UnixMilli(),
	)
	return errors.Wrapf(err, "upsert contact %s", contact.Address.Short())
}

// RemoveContact deletes a contact record.
func (b *SQLiteBackend) RemoveContact(ctx context.Context, addr address.Address) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM contacts WHERE address = ?`, addr.Bytes())
	return errors.Wrapf(err, "delete contact %s", addr.Short())
}

// LoadContacts returns every persisted contact.
func (b *SQLiteBackend) LoadContacts(ctx context.Context) ([]liveness.Data, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT address, status, last_seen, created_at FROM contacts ORDER BY address ASC`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query contacts")
	}
	defer rows.Close()

	contacts := make([]liveness.Data, 0)
	for rows.Next() {
		var (
			rawAddr   []byte
			status    string
			lastSeen  sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&rawAddr, &status, &lastSeen, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan contact row")
		}
		addr, err := address.FromBytes(rawAddr)
		if err != nil {
			return nil, errors.Wrap(err, "scan contact row")
		}
		contacts = append(contacts, liveness.Data{
			Address:   addr,
			Status:    parseStatus(status),
			LastSeen:  fromNullMillis(lastSeen),
			CreatedAt: time.UnixMilli(createdAt).UTC(),
		})
	}
	return contacts, errors.Wrap(rows.Err(), "iterate contact rows")
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		closeErr = b.db.Close()
	})
	return closeErr
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseDirection(s string) messaging.Direction {
	for _, d := range []messaging.Direction{messaging.Inbound, messaging.Outbound} {
		if d.String() == s {
			return d
		}
	}
	return 0
}

func parseMetadataType(s string) messaging.MetadataType {
	for t := messaging.MetadataReply; t <= messaging.MetadataLink; t++ {
		if t.String() == s {
			return t
		}
	}
	return 0
}

func parseStatus(s string) liveness.Status {
	for _, st := range []liveness.Status{liveness.StatusNeverSeen, liveness.StatusOnline, liveness.StatusOffline, liveness.StatusBanned} {
		if st.String() == s {
			return st
		}
	}
	return liveness.StatusNeverSeen
}
