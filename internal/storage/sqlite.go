package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/milopalmaerts/Crypto/internal/models"
)

const createSchema = `
create table if not exists users (
	id            text primary key,
	first_name    text not null,
	last_name     text not null,
	email         text not null unique,
	password_hash text not null,
	created_at    datetime not null
);

create table if not exists holdings (
	id         integer primary key autoincrement,
	user_id    text not null references users(id) on delete cascade,
	crypto_id  text not null,
	symbol     text not null,
	name       text not null,
	amount     real not null,
	avg_price  real not null,
	created_at datetime not null,
	updated_at datetime not null,
	unique (user_id, crypto_id)
);

create index if not exists idx_holdings_user on holdings(user_id, created_at);
`

// SQLiteStore is the default single-file backend
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Backend() string { return "sqlite" }

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createSchema)
	return err
}

func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `select id, first_name, last_name, email, password_hash, created_at
		from users where email = ?`

	var u models.User
	err := s.db.QueryRowContext(ctx, query, NormalizeEmail(email)).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = NormalizeEmail(user.Email)

	const statement = `insert into users (id, first_name, last_name, email, password_hash, created_at)
		values (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, statement,
		user.ID, user.FirstName, user.LastName, user.Email, user.PasswordHash, user.CreatedAt)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetHoldingsByUser(ctx context.Context, userID string) ([]models.Holding, error) {
	const query = `select user_id, crypto_id, symbol, name, amount, avg_price, created_at, updated_at
		from holdings where user_id = ? order by created_at asc, id asc`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	holdings := []models.Holding{}
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.UserID, &h.CryptoID, &h.Symbol, &h.Name, &h.Amount, &h.AvgPrice, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *SQLiteStore) AddOrUpdateHolding(ctx context.Context, lot *models.Holding) (*models.Holding, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result := *lot
	result.UpdatedAt = now

	var prevAmount, prevAvg float64
	var createdAt time.Time
	merged := false
	err = tx.QueryRowContext(ctx,
		`select amount, avg_price, created_at from holdings where user_id = ? and crypto_id = ?`,
		lot.UserID, lot.CryptoID,
	).Scan(&prevAmount, &prevAvg, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		result.CreatedAt = now
		_, err = tx.ExecContext(ctx,
			`insert into holdings (user_id, crypto_id, symbol, name, amount, avg_price, created_at, updated_at)
			values (?, ?, ?, ?, ?, ?, ?, ?)`,
			result.UserID, result.CryptoID, result.Symbol, result.Name, result.Amount, result.AvgPrice, now, now)
		if err != nil {
			return nil, false, fmt.Errorf("insert holding: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("load holding: %w", err)
	default:
		merged = true
		result.CreatedAt = createdAt
		result.Amount, result.AvgPrice = MergeLot(prevAmount, prevAvg, lot.Amount, lot.AvgPrice)
		_, err = tx.ExecContext(ctx,
			`update holdings set amount = ?, avg_price = ?, symbol = ?, name = ?, updated_at = ?
			where user_id = ? and crypto_id = ?`,
			result.Amount, result.AvgPrice, result.Symbol, result.Name, now, result.UserID, result.CryptoID)
		if err != nil {
			return nil, false, fmt.Errorf("update holding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return &result, merged, nil
}

func (s *SQLiteStore) DeleteHolding(ctx context.Context, userID, cryptoID string) error {
	res, err := s.db.ExecContext(ctx, `delete from holdings where user_id = ? and crypto_id = ?`, userID, cryptoID)
	if err != nil {
		return fmt.Errorf("delete holding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete holding: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// MissingIndexes lists schema objects EnsureSchema creates that are absent
func (s *SQLiteStore) MissingIndexes(ctx context.Context) ([]string, error) {
	var missing []string
	for _, name := range []string{"users", "holdings", "idx_holdings_user"} {
		var found string
		err := s.db.QueryRowContext(ctx,
			`select name from sqlite_master where name = ? and type in ('table', 'index')`, name,
		).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inspect schema: %w", err)
		}
	}
	return missing, nil
}
