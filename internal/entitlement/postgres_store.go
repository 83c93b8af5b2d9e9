package entitlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/lucidlens/server/internal/config"
)

// PostgresStore keeps entitlement records as JSONB documents keyed by user id.
// Merge writes use the jsonb || operator; change subscription uses LISTEN/NOTIFY.
type PostgresStore struct {
	db           *sql.DB
	ownsDB       bool
	connString   string
	table        string
	channel      string
	queryTimeout time.Duration

	hub          *hub
	listenMu     sync.Mutex
	closed       bool
	listener     *pq.Listener
	openListener func() (*pq.Listener, error)
	stopListener chan struct{}
	listenerDone chan struct{}
}

// NewPostgresStore opens a new connection pool and creates the table if needed.
func NewPostgresStore(connString string, cfg config.EntitlementConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, cfg.PostgresPool)

	store, err := NewPostgresStoreWithDB(db, connString, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewPostgresStoreWithDB uses an existing pool. connString is still needed for the
// dedicated LISTEN connection.
func NewPostgresStoreWithDB(db *sql.DB, connString string, cfg config.EntitlementConfig) (*PostgresStore, error) {
	table := cfg.PostgresTable
	if table == "" {
		table = "user_entitlements"
	}
	store := &PostgresStore{
		db:           db,
		connString:   connString,
		table:        table,
		channel:      table + "_changed",
		queryTimeout: cfg.QueryTimeout.Duration,
		hub:          newHub(),
		stopListener: make(chan struct{}),
		listenerDone: make(chan struct{}),
	}
	store.openListener = store.dialListener
	if err := store.createTable(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTable() error {
	ctx, cancel := withQueryTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT PRIMARY KEY,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create entitlement table: %w", err)
	}
	return nil
}

// Get loads a record. A missing row yields an empty record.
func (s *PostgresStore) Get(ctx context.Context, userID string) (Record, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT data, updated_at FROM %s WHERE user_id = $1`, pq.QuoteIdentifier(s.table))
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{UserID: userID}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("get entitlement %s: %w", userID, err)
	}

	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Record{}, fmt.Errorf("decode entitlement %s: %w", userID, err)
	}
	return recordFromFields(userID, fields, updatedAt), nil
}

// MergeSet upserts fields into the JSONB document and notifies listeners on commit.
func (s *PostgresStore) MergeSet(ctx context.Context, userID string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode entitlement fields: %w", err)
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin entitlement tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	table := pq.QuoteIdentifier(s.table)
	upsert := fmt.Sprintf(`
		INSERT INTO %s (user_id, data, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET data = %s.data || EXCLUDED.data, updated_at = NOW()`, table, table)
	if _, err := tx.ExecContext(ctx, upsert, userID, string(payload)); err != nil {
		return fmt.Errorf("merge entitlement %s: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.channel, userID); err != nil {
		return fmt.Errorf("notify entitlement %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entitlement %s: %w", userID, err)
	}
	return nil
}

// Subscribe streams snapshots driven by NOTIFY on the store's channel.
// The LISTEN connection is opened on first use and shared by all subscribers.
// A failed open is retried by the next Subscribe.
func (s *PostgresStore) Subscribe(ctx context.Context, userID string) (<-chan Record, error) {
	if err := s.ensureListener(); err != nil {
		return nil, err
	}

	sub, err := s.hub.subscribe(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.hub.deliver(sub, rec)
	return sub.ch, nil
}

func (s *PostgresStore) ensureListener() error {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.listener != nil {
		return nil
	}
	l, err := s.openListener()
	if err != nil {
		return err
	}
	s.listener = l
	go s.dispatch(l.Notify)
	return nil
}

func (s *PostgresStore) dialListener() (*pq.Listener, error) {
	l := pq.NewListener(s.connString, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("entitlement.postgres.listener_event")
		}
	})
	if err := l.Listen(s.channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", s.channel, err)
	}
	return l, nil
}

func (s *PostgresStore) dispatch(notify <-chan *pq.Notification) {
	defer close(s.listenerDone)
	for {
		select {
		case <-s.stopListener:
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			// A nil notification means the connection was re-established and
			// changes may have been missed, so every subscribed user is refreshed.
			users := s.hub.users()
			if n != nil {
				users = []string{n.Extra}
			}
			for _, userID := range users {
				s.refresh(userID)
			}
		}
	}
}

func (s *PostgresStore) refresh(userID string) {
	rec, err := s.Get(context.Background(), userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("entitlement.postgres.refresh_failed")
		return
	}
	s.hub.publish(rec)
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close stops the listener, releases subscribers, and closes the pool if owned.
func (s *PostgresStore) Close() error {
	s.listenMu.Lock()
	if s.closed {
		s.listenMu.Unlock()
		return nil
	}
	s.closed = true
	if s.listener != nil {
		close(s.stopListener)
		<-s.listenerDone
		_ = s.listener.Close()
	}
	s.listenMu.Unlock()
	s.hub.close()
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
