// Package credstore keeps the (identifier, password hash) pairs used to
// authenticate users.
//
// The store never sees a plain-text password, callers are expected to hand
// over an already encoded hash (see package auth). Identifier uniqueness is
// enforced by the database itself: two concurrent registrations of the same
// identifier race on a unique index inside a transaction and only one of
// them can win.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andrebq/doorman/credstore/migrations"
	"github.com/cespare/xxhash/v2"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type (
	Store struct {
		db    *sql.DB
		owned bool
		now   func() time.Time
	}

	User struct {
		ID           int64
		Identifier   string
		PasswordHash string
		CreatedAt    time.Time
	}
)

const (
	usersTable = "users"
)

func openDatabase(ctx context.Context, file string) (*sql.DB, error) {
	err := os.MkdirAll(filepath.Dir(file), 0755)
	if err != nil {
		return nil, fmt.Errorf("unable to create directory to store %v, cause %w", file, err)
	}
	// immediate transactions take the write lock on begin, together with the busy timeout
	// this serializes writers instead of failing them with SQLITE_BUSY
	connstr := fmt.Sprintf("file:%v?_journal=wal&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on&mode=rwc", file)
	conn, err := sql.Open("sqlite3", connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v, cause %w", file, err)
	}
	err = conn.PingContext(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping database %v, cause %w", file, err)
	}
	return conn, nil
}

// Open the sqlite database at file, creating it if needed.
// The returned store owns the connection pool and closes it on Close.
func Open(ctx context.Context, file string) (*Store, error) {
	db, err := openDatabase(ctx, file)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New returns a store that uses the given pool. Migrations are applied
// before returning. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	err := s.migrate(ctx)
	if err != nil {
		return nil, err
	}
	err = s.verifySchema(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateUser inserts a new user and returns its id.
//
// If identifier is already taken, DuplicateIdentifier is returned.
func (s *Store) CreateUser(ctx context.Context, identifier, passwordHash string) (int64, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, StorageFailure{Op: "acquire connection", cause: err}
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, StorageFailure{Op: "begin transaction", cause: err}
	}
	var id int64
	err = tx.QueryRowContext(ctx, `insert into users(identifier, identifier_hash64, password_hash, created_at)
	values (?, ?, ?, ?) returning user_id`,
		identifier, identifierHash(identifier), passwordHash, s.now().UTC()).Scan(&id)
	if err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return 0, DuplicateIdentifier{Identifier: identifier}
		}
		return 0, StorageFailure{Op: "insert user", cause: err}
	}
	err = tx.Commit()
	if err != nil {
		if isUniqueViolation(err) {
			return 0, DuplicateIdentifier{Identifier: identifier}
		}
		return 0, StorageFailure{Op: "commit user", cause: err}
	}
	return id, nil
}

// FindByIdentifier returns the user registered with identifier,
// the boolean is false if no such user exists.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (User, bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return User{}, false, StorageFailure{Op: "acquire connection", cause: err}
	}
	defer conn.Close()

	var u User
	err = conn.QueryRowContext(ctx, `select user_id, identifier, password_hash, created_at from users
	where identifier_hash64 = ? and identifier = ?`, identifierHash(identifier), identifier).
		Scan(&u.ID, &u.Identifier, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	} else if err != nil {
		return User{}, false, StorageFailure{Op: "lookup user", cause: err}
	}
	return u, true, nil
}

// Describe returns the definition of the users table, as seen by sqlite
func (s *Store) Describe(ctx context.Context) (*TableDef, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, StorageFailure{Op: "acquire connection", cause: err}
	}
	defer conn.Close()
	return describeTable(ctx, conn, usersTable)
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations.FS)
	if err != nil {
		return fmt.Errorf("unable to prepare migrations, cause %w", err)
	}
	_, err = provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("unable to apply migrations, cause %w", err)
	}
	return nil
}

func (s *Store) verifySchema(ctx context.Context) error {
	td, err := s.Describe(ctx)
	if err != nil {
		return fmt.Errorf("unable to read %v table definition, cause %w", usersTable, err)
	}
	if !td.HasUnique("identifier") {
		return MissingUniqueIndex{Table: usersTable, Column: "identifier"}
	}
	return nil
}

func identifierHash(identifier string) int64 {
	return int64(xxhash.Sum64String(identifier))
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
