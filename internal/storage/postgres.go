package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var _ Store = (*PGStore)(nil)

const pgChangeChannel = "kv_changed"

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PGStore keeps the shared store in a single kv table and uses
// LISTEN/NOTIFY for change subscriptions.
type PGStore struct {
	pool   *pgxpool.Pool
	log    *zap.Logger
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    map[string]map[int]func(string)
	nextSub int
}

func NewPGStore(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) (*PGStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value JSONB NOT NULL
	)`)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(context.Background())
	s := &PGStore{
		pool:   pool,
		log:    log,
		cancel: cancel,
		subs:   make(map[string]map[int]func(string)),
	}
	go s.listen(lctx)
	return s, nil
}

func (s *PGStore) Close() { s.cancel() }

func (s *PGStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Key: key, Err: err}
	}
	return v, nil
}

func (s *PGStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO kv(key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return &PersistenceError{Op: "set", Key: key, Err: err}
	}
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, pgChangeChannel, key); err != nil {
		s.log.Warn("pg_notify failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (s *PGStore) Remove(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv WHERE key=$1`, key)
	if err != nil {
		return &PersistenceError{Op: "remove", Key: key, Err: err}
	}
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, pgChangeChannel, key); err != nil {
		s.log.Warn("pg_notify failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (s *PGStore) Subscribe(key string, h func(key string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(string))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[key][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[key], id)
			s.mu.Unlock()
		})
	}
}

// listen holds one connection on LISTEN and dispatches payloads (key names)
// to subscribers. The connection is re-acquired on failure.
func (s *PGStore) listen(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := s.pool.Acquire(ctx)
		if err != nil {
			s.log.Warn("listen acquire failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, `LISTEN `+pgChangeChannel); err != nil {
			s.log.Warn("LISTEN failed", zap.Error(err))
			conn.Release()
			time.Sleep(time.Second)
			continue
		}
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				conn.Release()
				break
			}
			s.dispatch(n.Payload)
		}
	}
}

func (s *PGStore) dispatch(key string) {
	s.mu.Lock()
	hs := make([]func(string), 0, len(s.subs[key]))
	for _, h := range s.subs[key] {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h(key)
	}
}
