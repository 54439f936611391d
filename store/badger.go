package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend persists pages and metadata in an embedded badger database.
// Keys are scoped by namespace so independent tables can share one database:
//
//	{namespace}/p/{bucket}/{column}  → JSON-encoded page
//	{namespace}/m/{name}             → metadata record
type BadgerBackend struct {
	db     *badger.DB
	ns     string
	ownsDB bool
	log    *slog.Logger
}

// OpenBadger opens (or creates) a badger database at dir and scopes a
// backend to namespace. The backend owns the database and closes it.
func OpenBadger(dir, namespace string) (*BadgerBackend, error) {
	log := slog.Default().With(
		slog.String("component", "badger-backend"),
		slog.String("namespace", namespace),
	)
	opts := badger.DefaultOptions(dir).WithLogger(&badgerLogger{log: log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &BadgerBackend{db: db, ns: namespace, ownsDB: true, log: log}, nil
}

// NewBadgerBackend scopes a backend to namespace on an already-open
// database. The caller keeps ownership of db.
func NewBadgerBackend(db *badger.DB, namespace string) *BadgerBackend {
	return &BadgerBackend{
		db: db,
		ns: namespace,
		log: slog.Default().With(
			slog.String("component", "badger-backend"),
			slog.String("namespace", namespace),
		),
	}
}

func (b *BadgerBackend) pageKey(id PageID) []byte {
	return []byte(fmt.Sprintf("%s/p/%d/%s", b.ns, id.Bucket, id.Column))
}

func (b *BadgerBackend) metaKey(name string) []byte {
	return []byte(fmt.Sprintf("%s/m/%s", b.ns, name))
}

func (b *BadgerBackend) LoadPage(ctx context.Context, id PageID) (Page, bool, error) {
	data, ok, err := b.get(b.pageKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("decode page %d/%s: %w", id.Bucket, id.Column, err)
	}
	return p, true, nil
}

func (b *BadgerBackend) SavePage(ctx context.Context, id PageID, p Page) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode page %d/%s: %w", id.Bucket, id.Column, err)
	}
	return b.set(b.pageKey(id), data)
}

func (b *BadgerBackend) LoadMeta(ctx context.Context, name string) ([]byte, bool, error) {
	return b.get(b.metaKey(name))
}

func (b *BadgerBackend) SaveMeta(ctx context.Context, name string, data []byte) error {
	return b.set(b.metaKey(name), data)
}

// Drop deletes every record in the namespace.
func (b *BadgerBackend) Drop(ctx context.Context) error {
	if err := b.db.DropPrefix([]byte(b.ns + "/")); err != nil {
		return fmt.Errorf("drop namespace %q: %w", b.ns, err)
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}

func (b *BadgerBackend) get(key []byte) (v []byte, ok bool, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get(key)
		if err != nil {
			return err
		}
		v, err = it.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get %q: %w", key, err)
	}
	return v, true, nil
}

func (b *BadgerBackend) set(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w", key, err)
	}
	return nil
}

// badgerLogger adapts badger's logger to slog. Badger is chatty at INFO;
// everything routes to debug except errors and warnings.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
