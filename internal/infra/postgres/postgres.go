// Package postgres is the SQL storage backend. Row-level locking via
// SELECT ... FOR UPDATE backs the unit-of-work guarantees.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/port"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements storage over a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ port.Store = (*Store)(nil)

// New connects to the database and verifies the connection.
func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping reports database liveness for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// RunMigrations applies the embedded schema migrations.
func RunMigrations(databaseURL string, logger *zap.Logger) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	d, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

const accountColumns = `id, number, user_id, balance, currency, status, created_at, closed_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Number, &a.UserID, &a.Balance, &a.Currency, &a.Status, &a.CreatedAt, &a.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ============================================================
// LedgerStore
// ============================================================

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context, filter port.AccountFilter, page domain.PageRequest) ([]domain.Account, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR user_id = $1) AND ($2::text IS NULL OR status = $2)`

	var status *string
	if filter.Status != nil {
		v := string(*filter.Status)
		status = &v
	}

	var (
		accounts []domain.Account
		total    int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.pool.Query(gctx,
			`SELECT `+accountColumns+` FROM accounts`+where+` ORDER BY created_at, id LIMIT $3 OFFSET $4`,
			filter.UserID, status, page.Size, page.Offset())
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var a domain.Account
			if err := rows.Scan(&a.ID, &a.Number, &a.UserID, &a.Balance, &a.Currency, &a.Status, &a.CreatedAt, &a.ClosedAt); err != nil {
				return fmt.Errorf("scan account: %w", err)
			}
			accounts = append(accounts, a)
		}
		return rows.Err()
	})
	g.Go(func() error {
		row := s.pool.QueryRow(gctx, `SELECT count(*) FROM accounts`+where, filter.UserID, status)
		if err := row.Scan(&total); err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, filter port.TransactionFilter, page domain.PageRequest) ([]domain.Transaction, int, error) {
	where := ` WHERE account_id = $1
		AND ($2::timestamptz IS NULL OR ts >= $2)
		AND ($3::timestamptz IS NULL OR ts <= $3)`

	var (
		txns  []domain.Transaction
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.pool.Query(gctx,
			`SELECT id, account_id, type, amount, description, ts, balance_after FROM transactions`+
				where+` ORDER BY ts DESC, seq DESC LIMIT $4 OFFSET $5`,
			accountID, filter.From, filter.To, page.Size, page.Offset())
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t domain.Transaction
			if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.Description, &t.Timestamp, &t.BalanceAfter); err != nil {
				return fmt.Errorf("scan transaction: %w", err)
			}
			txns = append(txns, t)
		}
		return rows.Err()
	})
	g.Go(func() error {
		row := s.pool.QueryRow(gctx, `SELECT count(*) FROM transactions`+where, accountID, filter.From, filter.To)
		if err := row.Scan(&total); err != nil {
			return fmt.Errorf("count transactions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// ============================================================
// CreditBook
// ============================================================

const tariffColumns = `id, name, interest_rate, min_amount, max_amount, min_term, max_term, status, created_at`

func (s *Store) GetTariff(ctx context.Context, id uuid.UUID) (*domain.CreditTariff, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tariffColumns+` FROM credit_tariffs WHERE id = $1`, id)
	var t domain.CreditTariff
	err := row.Scan(&t.ID, &t.Name, &t.InterestRate, &t.MinAmount, &t.MaxAmount, &t.MinTerm, &t.MaxTerm, &t.Status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "tariff", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get tariff: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTariffs(ctx context.Context, activeOnly bool, page domain.PageRequest) ([]domain.CreditTariff, int, error) {
	where := ` WHERE (NOT $1::bool OR status = 'ACTIVE')`

	var (
		tariffs []domain.CreditTariff
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.pool.Query(gctx,
			`SELECT `+tariffColumns+` FROM credit_tariffs`+where+` ORDER BY created_at, id LIMIT $2 OFFSET $3`,
			activeOnly, page.Size, page.Offset())
		if err != nil {
			return fmt.Errorf("list tariffs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t domain.CreditTariff
			if err := rows.Scan(&t.ID, &t.Name, &t.InterestRate, &t.MinAmount, &t.MaxAmount, &t.MinTerm, &t.MaxTerm, &t.Status, &t.CreatedAt); err != nil {
				return fmt.Errorf("scan tariff: %w", err)
			}
			tariffs = append(tariffs, t)
		}
		return rows.Err()
	})
	g.Go(func() error {
		row := s.pool.QueryRow(gctx, `SELECT count(*) FROM credit_tariffs`+where, activeOnly)
		if err := row.Scan(&total); err != nil {
			return fmt.Errorf("count tariffs: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return tariffs, total, nil
}

func (s *Store) CreateTariff(ctx context.Context, tariff *domain.CreditTariff) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credit_tariffs (`+tariffColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tariff.ID, tariff.Name, tariff.InterestRate, tariff.MinAmount, tariff.MaxAmount,
		tariff.MinTerm, tariff.MaxTerm, tariff.Status, tariff.CreatedAt)
	if err != nil {
		return fmt.Errorf("create tariff: %w", err)
	}
	return nil
}

func (s *Store) UpdateTariffStatus(ctx context.Context, id uuid.UUID, status domain.TariffStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE credit_tariffs SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update tariff status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "tariff", ID: id.String()}
	}
	return nil
}

const creditColumns = `id, user_id, account_id, tariff_id, principal, remaining_amount, interest_rate, start_date, end_date, status`

func scanCredit(row pgx.Row) (*domain.Credit, error) {
	var c domain.Credit
	err := row.Scan(&c.ID, &c.UserID, &c.AccountID, &c.TariffID, &c.Principal, &c.RemainingAmount,
		&c.InterestRate, &c.StartDate, &c.EndDate, &c.Status)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCredit(ctx context.Context, id uuid.UUID) (*domain.Credit, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+creditColumns+` FROM credits WHERE id = $1`, id)
	credit, err := scanCredit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "credit", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get credit: %w", err)
	}
	return credit, nil
}

func (s *Store) ListCredits(ctx context.Context, filter port.CreditFilter, page domain.PageRequest) ([]domain.Credit, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR user_id = $1)`

	var (
		credits []domain.Credit
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.pool.Query(gctx,
			`SELECT `+creditColumns+` FROM credits`+where+` ORDER BY start_date DESC, id LIMIT $2 OFFSET $3`,
			filter.UserID, page.Size, page.Offset())
		if err != nil {
			return fmt.Errorf("list credits: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c domain.Credit
			if err := rows.Scan(&c.ID, &c.UserID, &c.AccountID, &c.TariffID, &c.Principal, &c.RemainingAmount,
				&c.InterestRate, &c.StartDate, &c.EndDate, &c.Status); err != nil {
				return fmt.Errorf("scan credit: %w", err)
			}
			credits = append(credits, c)
		}
		return rows.Err()
	})
	g.Go(func() error {
		row := s.pool.QueryRow(gctx, `SELECT count(*) FROM credits`+where, filter.UserID)
		if err := row.Scan(&total); err != nil {
			return fmt.Errorf("count credits: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return credits, total, nil
}

// ============================================================
// UnitOfWork
// ============================================================

func (s *Store) Exec(ctx context.Context, fn func(tx port.Tx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if err := fn(&sqlTx{tx: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// sqlTx implements port.Tx over a database transaction.
type sqlTx struct {
	tx pgx.Tx
}

func (t *sqlTx) LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return account, nil
}

func (t *sqlTx) InsertAccount(ctx context.Context, account *domain.Account) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.ID, account.Number, account.UserID, account.Balance, account.Currency,
		account.Status, account.CreatedAt, account.ClosedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateAccount(ctx context.Context, account *domain.Account) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $2, status = $3, closed_at = $4 WHERE id = $1`,
		account.ID, account.Balance, account.Status, account.ClosedAt)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "account", ID: account.ID.String()}
	}
	return nil
}

func (t *sqlTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, account_id, type, amount, description, ts, balance_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.AccountID, txn.Type, txn.Amount, txn.Description, txn.Timestamp, txn.BalanceAfter)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (t *sqlTx) LockCredit(ctx context.Context, id uuid.UUID) (*domain.Credit, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+creditColumns+` FROM credits WHERE id = $1 FOR UPDATE`, id)
	credit, err := scanCredit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "credit", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("lock credit: %w", err)
	}
	return credit, nil
}

func (t *sqlTx) InsertCredit(ctx context.Context, credit *domain.Credit) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO credits (`+creditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		credit.ID, credit.UserID, credit.AccountID, credit.TariffID, credit.Principal,
		credit.RemainingAmount, credit.InterestRate, credit.StartDate, credit.EndDate, credit.Status)
	if err != nil {
		return fmt.Errorf("insert credit: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateCredit(ctx context.Context, credit *domain.Credit) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE credits SET remaining_amount = $2, status = $3 WHERE id = $1`,
		credit.ID, credit.RemainingAmount, credit.Status)
	if err != nil {
		return fmt.Errorf("update credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "credit", ID: credit.ID.String()}
	}
	return nil
}
