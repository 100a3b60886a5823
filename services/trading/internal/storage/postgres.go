package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

type Postgres struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	logger      *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, lockTimeout time.Duration, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, lockTimeout: lockTimeout, logger: logger}
}

// InTx runs fn in a READ COMMITTED transaction with a bounded lock wait.
// The transaction commits only when fn returns nil.
func (s *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapPgError(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return mapPgError(err)
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	committed = true
	return nil
}

func (s *Postgres) GetWalletByUser(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, balance::text, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID)
	return scanWallet(row)
}

func (s *Postgres) ListWalletTransactions(ctx context.Context, walletID uuid.UUID) ([]WalletTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_id, type, amount::text, balance_after::text, reference_id, purpose, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
	`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]WalletTransaction, 0)
	for rows.Next() {
		var entry WalletTransaction
		var amountStr, balanceStr string
		if err := rows.Scan(&entry.ID, &entry.WalletID, &entry.Type, &amountStr, &balanceStr, &entry.ReferenceID, &entry.Purpose, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if entry.Amount, err = parseDecimal(amountStr, "amount"); err != nil {
			return nil, err
		}
		if entry.BalanceAfter, err = parseDecimal(balanceStr, "balance_after"); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const orderColumns = `
	o.id, o.user_id, o.order_type, o.price::text, o.status, o.reject_reason, o.created_at, o.updated_at,
	i.id, i.coin_id, i.symbol, i.quantity::text, i.buy_price::text, i.sell_price::text
`

func (s *Postgres) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN order_items i ON i.order_id = o.id
		WHERE o.id = $1
	`, orderID)
	return scanOrder(row)
}

func (s *Postgres) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		JOIN order_items i ON i.order_id = o.id
		WHERE o.user_id = $1
	`
	args := []any{filter.UserID}
	idx := 2

	if filter.OrderType != "" {
		query += fmt.Sprintf(" AND o.order_type = $%d", idx)
		args = append(args, filter.OrderType)
		idx++
	}
	if filter.AssetSymbol != "" {
		query += fmt.Sprintf(" AND upper(i.symbol) = upper($%d)", idx)
		args = append(args, filter.AssetSymbol)
	}
	query += " ORDER BY o.created_at DESC, o.id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

const assetColumns = `id, user_id, coin_id, symbol, quantity::text, buy_price::text, version, created_at, updated_at`

func (s *Postgres) GetAsset(ctx context.Context, assetID uuid.UUID) (*Asset, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, assetID)
	return scanAsset(row)
}

func (s *Postgres) GetAssetByUserAndCoin(ctx context.Context, userID uuid.UUID, coinID string) (*Asset, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE user_id = $1 AND coin_id = $2`, userID, coinID)
	return scanAsset(row)
}

func (s *Postgres) ListAssets(ctx context.Context, userID uuid.UUID) ([]Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assetColumns+` FROM assets WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := make([]Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

const withdrawalColumns = `id, user_id, amount::text, status, requested_at, resolved_at`

// ListWithdrawals returns every withdrawal when userID is uuid.Nil.
func (s *Postgres) ListWithdrawals(ctx context.Context, userID uuid.UUID) ([]Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals`
	args := []any{}
	if userID != uuid.Nil {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY requested_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Withdrawal, 0)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

const paymentColumns = `id, user_id, amount::text, method, status, gateway_payment_id, created_at, updated_at`

func (s *Postgres) GetPaymentOrder(ctx context.Context, id uuid.UUID) (*PaymentOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_orders WHERE id = $1`, id)
	return scanPaymentOrder(row)
}

func (s *Postgres) GetWithdrawal(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	return scanWithdrawal(row)
}

func (s *Postgres) UpsertPaymentDetails(ctx context.Context, details *PaymentDetails) (*PaymentDetails, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO payment_details (id, user_id, account_number, account_name, ifsc, bank_name, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET account_number = EXCLUDED.account_number,
			account_name = EXCLUDED.account_name,
			ifsc = EXCLUDED.ifsc,
			bank_name = EXCLUDED.bank_name,
			updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, account_number, account_name, ifsc, bank_name, updated_at
	`, details.ID, details.UserID, details.AccountNumber, details.AccountName, details.IFSC, details.BankName, details.UpdatedAt)
	return scanPaymentDetails(row)
}

func (s *Postgres) GetPaymentDetails(ctx context.Context, userID uuid.UUID) (*PaymentDetails, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, account_number, account_name, ifsc, bank_name, updated_at
		FROM payment_details
		WHERE user_id = $1
	`, userID)
	return scanPaymentDetails(row)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetOrCreateWalletForUpdate(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	now := time.Now().UTC()
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (id, user_id, balance, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID, now); err != nil {
		return nil, err
	}

	row := t.tx.QueryRow(ctx, `
		SELECT id, user_id, balance::text, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	return scanWallet(row)
}

func (t *pgTx) GetWalletForUpdate(ctx context.Context, walletID uuid.UUID) (*Wallet, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, user_id, balance::text, version, created_at, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`, walletID)
	return scanWallet(row)
}

func (t *pgTx) UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal, expectedVersion int64) (*Wallet, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
		RETURNING id, user_id, balance::text, version, created_at, updated_at
	`, balance.String(), time.Now().UTC(), walletID, expectedVersion)
	wallet, err := scanWallet(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: wallet %s version %d", ErrConflict, walletID, expectedVersion)
	}
	return wallet, err
}

func (t *pgTx) InsertWalletTransaction(ctx context.Context, entry *WalletTransaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount, balance_after, reference_id, purpose, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.WalletID, entry.Type, entry.Amount.String(), entry.BalanceAfter.String(), entry.ReferenceID, entry.Purpose, entry.CreatedAt)
	return err
}

func (t *pgTx) GetAssetForUpdate(ctx context.Context, userID uuid.UUID, coinID string) (*Asset, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE user_id = $1 AND coin_id = $2 FOR UPDATE`, userID, coinID)
	return scanAsset(row)
}

func (t *pgTx) GetAssetByIDForUpdate(ctx context.Context, assetID uuid.UUID) (*Asset, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1 FOR UPDATE`, assetID)
	return scanAsset(row)
}

func (t *pgTx) InsertAsset(ctx context.Context, asset *Asset) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO assets (id, user_id, coin_id, symbol, quantity, buy_price, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, asset.ID, asset.UserID, asset.CoinID, asset.Symbol, asset.Quantity.String(), asset.BuyPrice.String(), asset.Version, asset.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: asset %s/%s", ErrDuplicate, asset.UserID, asset.CoinID)
	}
	return err
}

func (t *pgTx) UpdateAssetQuantity(ctx context.Context, assetID uuid.UUID, quantity decimal.Decimal, expectedVersion int64) (*Asset, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE assets
		SET quantity = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
		RETURNING `+assetColumns,
		quantity.String(), time.Now().UTC(), assetID, expectedVersion)
	asset, err := scanAsset(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: asset %s version %d", ErrConflict, assetID, expectedVersion)
	}
	return asset, err
}

func (t *pgTx) DeleteAsset(ctx context.Context, assetID uuid.UUID, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM assets WHERE id = $1 AND version = $2`, assetID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: asset %s version %d", ErrConflict, assetID, expectedVersion)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *Order) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, order_type, price, status, reject_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, order.ID, order.UserID, order.OrderType, order.Price.String(), order.Status, order.RejectReason, order.CreatedAt, order.UpdatedAt); err != nil {
		return err
	}
	item := order.Item
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (id, order_id, coin_id, symbol, quantity, buy_price, sell_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, order.ID, item.CoinID, item.Symbol, item.Quantity.String(), item.BuyPrice.String(), item.SellPrice.String())
	return err
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status, reason string, now time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $1, reject_reason = $2, updated_at = $3
		WHERE id = $4 AND status = 'PENDING'
	`, status, reason, now, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return nil
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *Withdrawal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO withdrawals (id, user_id, amount, status, requested_at)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.UserID, w.Amount.String(), w.Status, w.RequestedAt)
	return err
}

func (t *pgTx) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id)
	return scanWithdrawal(row)
}

func (t *pgTx) UpdateWithdrawalStatus(ctx context.Context, id uuid.UUID, status string, resolvedAt time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE withdrawals SET status = $1, resolved_at = $2 WHERE id = $3`, status, resolvedAt, id)
	return err
}

func (t *pgTx) InsertPaymentOrder(ctx context.Context, p *PaymentOrder) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payment_orders (id, user_id, amount, method, status, gateway_payment_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.UserID, p.Amount.String(), p.Method, p.Status, p.GatewayPaymentID, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *pgTx) GetPaymentOrderForUpdate(ctx context.Context, id uuid.UUID) (*PaymentOrder, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_orders WHERE id = $1 FOR UPDATE`, id)
	return scanPaymentOrder(row)
}

func (t *pgTx) UpdatePaymentOrder(ctx context.Context, id uuid.UUID, status, gatewayPaymentID string, now time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE payment_orders SET status = $1, gateway_payment_id = $2, updated_at = $3
		WHERE id = $4
	`, status, gatewayPaymentID, now, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var w Wallet
	var balanceStr string
	if err := row.Scan(&w.ID, &w.UserID, &balanceStr, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if w.Balance, err = parseDecimal(balanceStr, "balance"); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanAsset(row rowScanner) (*Asset, error) {
	var a Asset
	var qtyStr, priceStr string
	if err := row.Scan(&a.ID, &a.UserID, &a.CoinID, &a.Symbol, &qtyStr, &priceStr, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if a.Quantity, err = parseDecimal(qtyStr, "quantity"); err != nil {
		return nil, err
	}
	if a.BuyPrice, err = parseDecimal(priceStr, "buy_price"); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var priceStr, qtyStr, buyStr, sellStr string
	if err := row.Scan(
		&o.ID, &o.UserID, &o.OrderType, &priceStr, &o.Status, &o.RejectReason, &o.CreatedAt, &o.UpdatedAt,
		&o.Item.ID, &o.Item.CoinID, &o.Item.Symbol, &qtyStr, &buyStr, &sellStr,
	); err != nil {
		return nil, notFound(err)
	}
	o.Item.OrderID = o.ID
	var err error
	if o.Price, err = parseDecimal(priceStr, "price"); err != nil {
		return nil, err
	}
	if o.Item.Quantity, err = parseDecimal(qtyStr, "quantity"); err != nil {
		return nil, err
	}
	if o.Item.BuyPrice, err = parseDecimal(buyStr, "buy_price"); err != nil {
		return nil, err
	}
	if o.Item.SellPrice, err = parseDecimal(sellStr, "sell_price"); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanWithdrawal(row rowScanner) (*Withdrawal, error) {
	var w Withdrawal
	var amountStr string
	if err := row.Scan(&w.ID, &w.UserID, &amountStr, &w.Status, &w.RequestedAt, &w.ResolvedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if w.Amount, err = parseDecimal(amountStr, "amount"); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanPaymentOrder(row rowScanner) (*PaymentOrder, error) {
	var p PaymentOrder
	var amountStr string
	if err := row.Scan(&p.ID, &p.UserID, &amountStr, &p.Method, &p.Status, &p.GatewayPaymentID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if p.Amount, err = parseDecimal(amountStr, "amount"); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPaymentDetails(row rowScanner) (*PaymentDetails, error) {
	var d PaymentDetails
	if err := row.Scan(&d.ID, &d.UserID, &d.AccountNumber, &d.AccountName, &d.IFSC, &d.BankName, &d.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func parseDecimal(value, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case pgUniqueViolation:
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}

func (s *Postgres) GetOrCreateWatchlist(ctx context.Context, userID uuid.UUID) (*Watchlist, error) {
	now := time.Now().UTC()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO watchlists (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID, now); err != nil {
		return nil, mapPgError(err)
	}

	var w Watchlist
	if err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, created_at, updated_at
		FROM watchlists
		WHERE user_id = $1
	`, userID).Scan(&w.ID, &w.UserID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, notFound(err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT coin_id
		FROM watchlist_coins
		WHERE watchlist_id = $1
		ORDER BY added_at, coin_id
	`, w.ID)
	if err != nil {
		return nil, err
	}
	coins, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	w.CoinIDs = coins
	return &w, nil
}

// ToggleWatchlistCoin removes coinID from the user's watchlist when present
// and adds it otherwise, reporting whether it is now watched. The upsert
// locks the watchlist row so concurrent toggles apply one after another.
func (s *Postgres) ToggleWatchlistCoin(ctx context.Context, userID uuid.UUID, coinID string) (bool, error) {
	now := time.Now().UTC()
	added := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var watchlistID uuid.UUID
		if err := tx.QueryRow(ctx, `
			INSERT INTO watchlists (id, user_id, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
			RETURNING id
		`, uuid.New(), userID, now).Scan(&watchlistID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			DELETE FROM watchlist_coins
			WHERE watchlist_id = $1 AND coin_id = $2
		`, watchlistID, coinID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO watchlist_coins (watchlist_id, coin_id, added_at)
			VALUES ($1, $2, $3)
		`, watchlistID, coinID, now); err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, mapPgError(err)
	}
	return added, nil
}
