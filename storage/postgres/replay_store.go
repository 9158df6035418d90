package pgstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultPruneSchedule runs the pruner every ten minutes.
const DefaultPruneSchedule = "@every 10m"

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ReplayStore is a webhook.ReplayStore on Postgres. A mark is one
// INSERT .. ON CONFLICT statement: an existing unexpired row wins, an expired
// one is overwritten.
type ReplayStore struct {
	db     DB
	schema string
	log    logrus.FieldLogger
}

func NewReplayStore(db DB, schema string, log logrus.FieldLogger) *ReplayStore {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "trust"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReplayStore{db: db, schema: s, log: log.WithField("component", "pgstore.replay")}
}

func (s *ReplayStore) table() string { return s.schema + ".processed_webhooks" }

func (s *ReplayStore) MarkIfAbsent(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	var got string
	err := s.db.QueryRow(ctx, `INSERT INTO `+s.table()+` AS p (id, processed_at, expires_at)
VALUES ($1, now(), now() + make_interval(secs => $2))
ON CONFLICT (id) DO UPDATE SET processed_at = EXCLUDED.processed_at, expires_at = EXCLUDED.expires_at
WHERE p.expires_at <= now()
RETURNING id`, id, ttl.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *ReplayStore) Release(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id=$1`, id)
	return err
}

// Prune deletes expired marks and returns how many were removed.
func (s *ReplayStore) Prune(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// StartPruner schedules Prune on a cron spec (DefaultPruneSchedule when
// empty). The returned stop function waits for a running prune to finish.
func (s *ReplayStore) StartPruner(spec string) (stop func(), err error) {
	if spec == "" {
		spec = DefaultPruneSchedule
	}
	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := s.Prune(ctx)
		if err != nil {
			s.log.WithError(err).Error("prune processed webhooks failed")
			return
		}
		if n > 0 {
			s.log.WithField("rows", n).Debug("pruned processed webhooks")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
