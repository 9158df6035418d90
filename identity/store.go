package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oidckit "github.com/PaulFidika/trustkit/oidc"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store maps verified identities to rows in the profiles schema.
type Store struct {
	pg     DB
	schema string
	log    logrus.FieldLogger
}

func NewStore(pg DB, schema string, log logrus.FieldLogger) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "profiles"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{pg: pg, schema: s, log: log.WithField("component", "identity.store")}
}

func (s *Store) usersTable() string { return s.schema + ".users" }

type User struct {
	ID              uuid.UUID
	IdentitySubject *string
	Email           *string
	EmailVerified   bool
	DisplayName     *string
}

// ResolveUser returns the user for a verified identity: the row already bound
// to the subject, else an existing account with the same email (only when the
// provider vouches for the email), else a new row.
func (s *Store) ResolveUser(ctx context.Context, claims *oidckit.VerifiedClaims) (uuid.UUID, error) {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return uuid.Nil, fmt.Errorf("%w: missing sub", oidckit.ErrInvalidClaims)
	}
	if s.pg == nil {
		return uuid.Nil, errors.New("identity: no database")
	}
	entry := s.log.WithField("sub", claims.Subject)

	id, err := s.GetIDBySubject(ctx, claims.Subject)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	email := strings.TrimSpace(claims.Email)
	verified := claims.EmailVerified != nil && *claims.EmailVerified
	if email != "" && verified {
		id, err = s.linkByEmail(ctx, claims.Subject, email)
		if err == nil {
			entry.WithField("user_id", id).Info("linked identity to existing account by email")
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, err
		}
	}

	id, err = s.create(ctx, claims, verified)
	if err != nil {
		return uuid.Nil, err
	}
	entry.WithField("user_id", id).Info("created user for identity")
	return id, nil
}

func (s *Store) GetIDBySubject(ctx context.Context, subject string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pg.QueryRow(ctx, `SELECT id FROM `+s.usersTable()+` WHERE identity_subject=$1 LIMIT 1`, subject).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	if s.pg == nil || id == uuid.Nil {
		return nil, nil
	}
	var u User
	err := s.pg.QueryRow(ctx, `SELECT id, identity_subject, email, email_verified, display_name FROM `+s.usersTable()+` WHERE id=$1 LIMIT 1`, id).
		Scan(&u.ID, &u.IdentitySubject, &u.Email, &u.EmailVerified, &u.DisplayName)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// linkByEmail binds subject to the oldest unbound account with this email.
func (s *Store) linkByEmail(ctx context.Context, subject, email string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pg.QueryRow(ctx, `UPDATE `+s.usersTable()+` SET identity_subject=$1, email_verified=true, updated_at=NOW()
WHERE id = (
  SELECT id FROM `+s.usersTable()+` WHERE lower(email)=lower($2) AND identity_subject IS NULL
  ORDER BY created_at LIMIT 1 FOR UPDATE
)
RETURNING id`, subject, email).Scan(&id)
	return id, err
}

// create inserts a row for subject. A concurrent insert for the same subject
// resolves to the existing row.
func (s *Store) create(ctx context.Context, claims *oidckit.VerifiedClaims, verified bool) (uuid.UUID, error) {
	var email, name *string
	if e := strings.TrimSpace(claims.Email); e != "" {
		email = &e
	}
	if n := strings.TrimSpace(claims.Name); n != "" {
		name = &n
	}
	var id uuid.UUID
	err := s.pg.QueryRow(ctx, `INSERT INTO `+s.usersTable()+` (id, identity_subject, email, email_verified, display_name)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (identity_subject) DO UPDATE SET updated_at=NOW()
RETURNING id`, uuid.New(), claims.Subject, email, verified, name).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
