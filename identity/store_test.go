package identity

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	oidckit "github.com/PaulFidika/trustkit/oidc"
	migrations "github.com/PaulFidika/trustkit/migrations/postgres"
	authtest "github.com/PaulFidika/trustkit/testing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

type scriptedRow struct {
	id  uuid.UUID
	err error
}

func (r scriptedRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*uuid.UUID)) = r.id
	return nil
}

// scriptedDB answers QueryRow calls in order and records the statements.
type scriptedDB struct {
	rows    []scriptedRow
	queries []string
}

func (d *scriptedDB) QueryRow(_ context.Context, q string, _ ...any) pgx.Row {
	d.queries = append(d.queries, q)
	r := d.rows[0]
	d.rows = d.rows[1:]
	return r
}

func (d *scriptedDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func verifiedClaims(t *testing.T, sub, email string, emailVerified bool) *oidckit.VerifiedClaims {
	t.Helper()
	ti := authtest.NewTestIssuer()
	defer ti.Close()
	v := oidckit.NewIDTokenVerifier(ti.Issuer(), ti.Audience(), oidckit.NewKeyCache(&oidckit.CertificateFetcher{URL: ti.CertsURL()}))
	extra := map[string]any{"email_verified": emailVerified}
	if sub == "" {
		extra["sub"] = nil
	}
	claims, err := v.Verify(context.Background(), ti.CreateTokenWithClaims(sub, email, extra))
	require.NoError(t, err)
	return claims
}

func TestResolveUser_ExistingSubject(t *testing.T) {
	want := uuid.New()
	db := &scriptedDB{rows: []scriptedRow{{id: want}}}
	s := NewStore(db, "", nil)

	got, err := s.ResolveUser(context.Background(), verifiedClaims(t, "uid-1", "a@b.com", true))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "profiles.users WHERE identity_subject=$1")
}

func TestResolveUser_LinksVerifiedEmail(t *testing.T) {
	want := uuid.New()
	db := &scriptedDB{rows: []scriptedRow{{err: pgx.ErrNoRows}, {id: want}}}
	s := NewStore(db, "", nil)

	got, err := s.ResolveUser(context.Background(), verifiedClaims(t, "uid-1", "a@b.com", true))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.Len(t, db.queries, 2)
	assert.True(t, strings.HasPrefix(db.queries[1], "UPDATE profiles.users SET identity_subject"))
}

func TestResolveUser_UnverifiedEmailNeverLinks(t *testing.T) {
	created := uuid.New()
	db := &scriptedDB{rows: []scriptedRow{{err: pgx.ErrNoRows}, {id: created}}}
	s := NewStore(db, "", nil)

	got, err := s.ResolveUser(context.Background(), verifiedClaims(t, "uid-1", "a@b.com", false))
	require.NoError(t, err)
	assert.Equal(t, created, got)
	require.Len(t, db.queries, 2)
	assert.True(t, strings.HasPrefix(db.queries[1], "INSERT INTO profiles.users"))
}

func TestResolveUser_CreatesWhenNoEmailMatch(t *testing.T) {
	created := uuid.New()
	db := &scriptedDB{rows: []scriptedRow{{err: pgx.ErrNoRows}, {err: pgx.ErrNoRows}, {id: created}}}
	s := NewStore(db, "", nil)

	got, err := s.ResolveUser(context.Background(), verifiedClaims(t, "uid-1", "a@b.com", true))
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Len(t, db.queries, 3)
}

func TestResolveUser_MissingSubject(t *testing.T) {
	s := NewStore(&scriptedDB{}, "", nil)
	_, err := s.ResolveUser(context.Background(), verifiedClaims(t, "", "a@b.com", true))
	assert.ErrorIs(t, err, oidckit.ErrInvalidClaims)

	_, err = s.ResolveUser(context.Background(), nil)
	assert.ErrorIs(t, err, oidckit.ErrInvalidClaims)
}

// Integration: set TRUSTKIT_TEST_DATABASE_URL to run against a real database.
func TestResolveUser_Postgres(t *testing.T) {
	dsn := os.Getenv("TRUSTKIT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TRUSTKIT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	sqldb, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer sqldb.Close()
	require.NoError(t, migrations.Up(ctx, bun.NewDB(sqldb, pgdialect.New()), nil))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	s := NewStore(pool, "", nil)

	email := uuid.NewString() + "@example.com"
	existing := uuid.New()
	_, err = pool.Exec(ctx, `INSERT INTO profiles.users (id, email) VALUES ($1, $2)`, existing, email)
	require.NoError(t, err)

	sub := "uid-" + uuid.NewString()
	got, err := s.ResolveUser(ctx, verifiedClaims(t, sub, email, true))
	require.NoError(t, err)
	assert.Equal(t, existing, got)

	again, err := s.ResolveUser(ctx, verifiedClaims(t, sub, email, true))
	require.NoError(t, err)
	assert.Equal(t, existing, again)

	u, err := s.GetByID(ctx, existing)
	require.NoError(t, err)
	require.NotNil(t, u.IdentitySubject)
	assert.Equal(t, sub, *u.IdentitySubject)
	assert.True(t, u.EmailVerified)
}
