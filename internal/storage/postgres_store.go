package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/anypay/eventhub/internal/config"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool // track if we created the DB connection (for Close())
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close() error during initialization cleanup is not actionable;
		// the connection failure is what the caller needs.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing
// connection pool, for callers sharing one pool across services.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

// createTables creates the hub's tables if they don't exist. The unique key on
// payment_options (invoice_uid, currency, chain) is what makes option refresh
// writes idempotent.
func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS invoices (
			id BIGSERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			account_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'unpaid',
			uri TEXT NOT NULL DEFAULT '',
			webhook_url TEXT,
			redirect_url TEXT,
			memo TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS payment_options (
			id BIGSERIAL PRIMARY KEY,
			invoice_uid TEXT NOT NULL REFERENCES invoices(uid) ON DELETE CASCADE,
			chain TEXT NOT NULL,
			currency TEXT NOT NULL,
			address TEXT NOT NULL,
			amount BIGINT NOT NULL,
			fee BIGINT NOT NULL DEFAULT 0,
			outputs JSONB NOT NULL DEFAULT '[]',
			uri TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires TIMESTAMPTZ NOT NULL,
			UNIQUE (invoice_uid, currency, chain)
		);

		CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			denomination TEXT
		);

		CREATE TABLE IF NOT EXISTS addresses (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL,
			chain TEXT NOT NULL,
			currency TEXT NOT NULL,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS coins (
			id BIGSERIAL PRIMARY KEY,
			currency TEXT NOT NULL,
			chain TEXT NOT NULL,
			precision INT,
			unavailable BOOLEAN NOT NULL DEFAULT FALSE,
			required_fee_rate DOUBLE PRECISION,
			color TEXT NOT NULL DEFAULT '',
			uri_template TEXT NOT NULL DEFAULT '',
			UNIQUE (currency, chain)
		);

		CREATE TABLE IF NOT EXISTS prices (
			id BIGSERIAL PRIMARY KEY,
			currency TEXT NOT NULL,
			base_currency TEXT NOT NULL,
			value NUMERIC NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (currency, base_currency)
		);

		CREATE TABLE IF NOT EXISTS payments (
			id BIGSERIAL PRIMARY KEY,
			txid TEXT NOT NULL,
			chain TEXT NOT NULL,
			currency TEXT NOT NULL,
			invoice_uid TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			confirmation_hash TEXT,
			confirmation_height BIGINT,
			confirmation_date TIMESTAMPTZ,
			confirmations INT
		);
		CREATE INDEX IF NOT EXISTS payments_txid_idx ON payments (txid);

		CREATE TABLE IF NOT EXISTS access_tokens (
			uid TEXT PRIMARY KEY,
			account_id BIGINT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, ReadTimeout)
}

func writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, WriteTimeout)
}

// InsertInvoice persists a new invoice and returns it with the assigned id.
func (s *PostgresStore) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	ctx, cancel := writeCtx(ctx)
	defer cancel()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invoices (uid, account_id, amount, currency, status, uri, webhook_url, redirect_url, memo, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		inv.UID, inv.AccountID, inv.Amount, inv.Currency, inv.Status, inv.URI,
		inv.WebhookURL, inv.RedirectURL, inv.Memo, inv.CreatedAt, inv.UpdatedAt,
	).Scan(&inv.ID)
	if err != nil {
		return Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	return inv, nil
}

// GetInvoice retrieves an invoice by uid.
func (s *PostgresStore) GetInvoice(ctx context.Context, uid string) (Invoice, error) {
	ctx, cancel := readCtx(ctx)
	defer cancel()

	var inv Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uid, account_id, amount, currency, status, uri, webhook_url, redirect_url, memo, created_at, updated_at
		FROM invoices WHERE uid = $1`, uid,
	).Scan(&inv.ID, &inv.UID, &inv.AccountID, &inv.Amount, &inv.Currency, &inv.Status,
		&inv.URI, &inv.WebhookURL, &inv.RedirectURL, &inv.Memo, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// UpdateInvoiceStatus writes the status and advances updated_at.
func (s *PostgresStore) UpdateInvoiceStatus(ctx context.Context, uid string, status InvoiceStatus) error {
	ctx, cancel := writeCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET status = $1, updated_at = NOW() WHERE uid = $2`, status, uid)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPaymentOptions writes a batch of options in one transaction. Conflicts
// on (invoice_uid, currency, chain) refresh the existing row and keep its
// created_at, matching the refresh-in-place semantics of expired options.
func (s *PostgresStore) UpsertPaymentOptions(ctx context.Context, opts []PaymentOption) ([]PaymentOption, error) {
	if len(opts) == 0 {
		return nil, nil
	}

	ctx, cancel := writeCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert payment options: %w", err)
	}
	defer tx.Rollback()

	out := make([]PaymentOption, 0, len(opts))
	for _, opt := range opts {
		outputs, err := json.Marshal(opt.Outputs)
		if err != nil {
			return nil, fmt.Errorf("marshal outputs: %w", err)
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO payment_options (invoice_uid, chain, currency, address, amount, fee, outputs, uri, created_at, updated_at, expires)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (invoice_uid, currency, chain) DO UPDATE SET
				address = EXCLUDED.address,
				amount = EXCLUDED.amount,
				fee = EXCLUDED.fee,
				outputs = EXCLUDED.outputs,
				uri = EXCLUDED.uri,
				updated_at = EXCLUDED.updated_at,
				expires = EXCLUDED.expires
			RETURNING id, created_at`,
			opt.InvoiceUID, opt.Chain, opt.Currency, opt.Address, opt.Amount, opt.Fee,
			outputs, opt.URI, opt.CreatedAt, opt.UpdatedAt, opt.Expires)
		if err := row.Scan(&opt.ID, &opt.CreatedAt); err != nil {
			return nil, fmt.Errorf("upsert payment option %s/%s: %w", opt.Currency, opt.Chain, err)
		}
		out = append(out, opt)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment options: %w", err)
	}
	return out, nil
}

// ListPaymentOptions returns the options for an invoice in insertion order.
func (s *PostgresStore) ListPaymentOptions(ctx context.Context, invoiceUID string) ([]PaymentOption, error) {
	ctx, cancel := readCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_uid, chain, currency, address, amount, fee, outputs, uri, created_at, updated_at, expires
		FROM payment_options WHERE invoice_uid = $1 ORDER BY id`, invoiceUID)
	if err != nil {
		return nil, fmt.Errorf("list payment options: %w", err)
	}
	defer rows.Close()

	var out []PaymentOption
	for rows.Next() {
		var opt PaymentOption
		var outputs []byte
		if err := rows.Scan(&opt.ID, &opt.InvoiceUID, &opt.Chain, &opt.Currency, &opt.Address,
			&opt.Amount, &opt.Fee, &outputs, &opt.URI, &opt.CreatedAt, &opt.UpdatedAt, &opt.Expires); err != nil {
			return nil, fmt.Errorf("scan payment option: %w", err)
		}
		if err := json.Unmarshal(outputs, &opt.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		out = append(out, opt)
	}
	return out, rows.Err()
}

// GetAccount retrieves an account by id.
func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (Account, error) {
	ctx, cancel := readCtx(ctx)
	defer cancel()

	var acct Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, denomination FROM accounts WHERE id = $1`, id,
	).Scan(&acct.ID, &acct.Denomination)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

// ListAddresses returns all addresses registered for an account.
func (s *PostgresStore) ListAddresses(ctx context.Context, accountID int64) ([]Address, error) {
	ctx, cancel := readCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, chain, currency, value FROM addresses WHERE account_id = $1 ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var out []Address
	for rows.Next() {
		var addr Address
		if err := rows.Scan(&addr.AccountID, &addr.Chain, &addr.Currency, &addr.Value); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// ListCoins returns every coin row.
func (s *PostgresStore) ListCoins(ctx context.Context) ([]CoinInfo, error) {
	ctx, cancel := readCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT currency, chain, precision, unavailable, required_fee_rate, color, uri_template FROM coins`)
	if err != nil {
		return nil, fmt.Errorf("list coins: %w", err)
	}
	defer rows.Close()

	var out []CoinInfo
	for rows.Next() {
		var coin CoinInfo
		if err := rows.Scan(&coin.Currency, &coin.Chain, &coin.Precision, &coin.Unavailable,
			&coin.RequiredFeeRate, &coin.Color, &coin.URITemplate); err != nil {
			return nil, fmt.Errorf("scan coin: %w", err)
		}
		out = append(out, coin)
	}
	return out, rows.Err()
}

// ListPrices returns every price row.
func (s *PostgresStore) ListPrices(ctx context.Context) ([]Price, error) {
	ctx, cancel := readCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, currency, base_currency, value, source, created_at, updated_at FROM prices`)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer rows.Close()

	var out []Price
	for rows.Next() {
		var p Price
		if err := rows.Scan(&p.ID, &p.Currency, &p.BaseCurrency, &p.Value, &p.Source, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindPrice returns the row where base_currency and currency match exactly.
func (s *PostgresStore) FindPrice(ctx context.Context, baseCurrency, currency string) (Price, error) {
	ctx, cancel := readCtx(ctx)
	defer cancel()

	var p Price
	err := s.db.QueryRowContext(ctx, `
		SELECT id, currency, base_currency, value, source, created_at, updated_at
		FROM prices WHERE base_currency = $1 AND currency = $2`, baseCurrency, currency,
	).Scan(&p.ID, &p.Currency, &p.BaseCurrency, &p.Value, &p.Source, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Price{}, ErrNotFound
	}
	if err != nil {
		return Price{}, fmt.Errorf("find price: %w", err)
	}
	return p, nil
}

// GetUnconfirmedPaymentByTxid returns the payment with the given txid that has
// no confirmation hash yet.
func (s *PostgresStore) GetUnconfirmedPaymentByTxid(ctx context.Context, txid string) (Payment, error) {
	ctx, cancel := readCtx(ctx)
	defer cancel()

	var p Payment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, txid, chain, currency, invoice_uid, status, confirmation_hash, confirmation_height, confirmation_date, confirmations
		FROM payments WHERE txid = $1 AND confirmation_hash IS NULL`, txid,
	).Scan(&p.ID, &p.Txid, &p.Chain, &p.Currency, &p.InvoiceUID, &p.Status,
		&p.ConfirmationHash, &p.ConfirmationHeight, &p.ConfirmationDate, &p.Confirmations)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("get unconfirmed payment: %w", err)
	}
	return p, nil
}

// ConfirmPayment applies the confirmation iff confirmation_hash is still null.
// "0 rows affected" means another writer confirmed first.
func (s *PostgresStore) ConfirmPayment(ctx context.Context, paymentID int64, conf Confirmation) (bool, error) {
	ctx, cancel := writeCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET
			confirmation_hash = $1,
			confirmation_height = $2,
			confirmation_date = $3,
			confirmations = $4,
			status = 'confirmed'
		WHERE id = $5 AND confirmation_hash IS NULL`,
		conf.Hash, conf.Height, conf.Date, conf.Confirmations, paymentID)
	if err != nil {
		return false, fmt.Errorf("confirm payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm payment rows: %w", err)
	}
	return n > 0, nil
}

// GetAccountIDByToken resolves an access token to its account.
func (s *PostgresStore) GetAccountIDByToken(ctx context.Context, tokenUID string) (int64, error) {
	ctx, cancel := readCtx(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id FROM access_tokens WHERE uid = $1`, tokenUID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get account by token: %w", err)
	}
	return id, nil
}

// Close releases the connection pool if this store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
