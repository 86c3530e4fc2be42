package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/alert"
	"github.com/Andresuito/barrett-bot/internal/catalog"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listActiveSubscribersSQL = `SELECT
        chat_id,
        fiat,
        tracked,
        cadence,
        emergency_on,
        emergency_threshold,
        active,
        created_at
    FROM subscribers
    WHERE active
    ORDER BY chat_id;`

	upsertSubscriberSQL = `INSERT INTO subscribers (
        chat_id,
        fiat,
        tracked,
        cadence,
        emergency_on,
        emergency_threshold,
        active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (chat_id) DO UPDATE
    SET fiat                = EXCLUDED.fiat,
        tracked             = EXCLUDED.tracked,
        cadence             = EXCLUDED.cadence,
        emergency_on        = EXCLUDED.emergency_on,
        emergency_threshold = EXCLUDED.emergency_threshold,
        active              = EXCLUDED.active;`

	deactivateSubscriberSQL = `UPDATE subscribers SET active = FALSE WHERE chat_id = $1;`

	listActiveAlertsSQL = `SELECT
        id,
        chat_id,
        asset_id,
        direction,
        trigger_price,
        created_at
    FROM threshold_alerts
    ORDER BY id;`

	insertAlertSQL = `INSERT INTO threshold_alerts (
        chat_id,
        asset_id,
        direction,
        trigger_price
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, chat_id, asset_id, direction, trigger_price, created_at;`

	deleteAlertSQL = `DELETE FROM threshold_alerts WHERE id = $1;`

	listWalletsSQL = `SELECT
        id,
        chat_id,
        chain,
        address,
        label,
        created_at
    FROM wallets
    WHERE chat_id = $1
    ORDER BY id;`

	upsertSnapshotSQL = `INSERT INTO quote_snapshots (
        asset_id,
        tick_ts,
        price_usd,
        change_24h,
        market_cap,
        volume_24h
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (asset_id, tick_ts) DO UPDATE
    SET price_usd  = EXCLUDED.price_usd,
        change_24h = EXCLUDED.change_24h,
        market_cap = EXCLUDED.market_cap,
        volume_24h = EXCLUDED.volume_24h;`

	listSnapshotsBetweenSQL = `SELECT
        asset_id,
        tick_ts,
        price_usd,
        change_24h,
        market_cap,
        volume_24h,
        created_at
    FROM quote_snapshots
    WHERE asset_id = $1
      AND tick_ts >= $2
      AND tick_ts < $3
    ORDER BY tick_ts;`

	listRecentSnapshotsSQL = `SELECT
        asset_id,
        tick_ts,
        price_usd,
        change_24h,
        market_cap,
        volume_24h,
        created_at
    FROM quote_snapshots
    ORDER BY tick_ts DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SubscriberStore defines operations on subscriber configurations.
type SubscriberStore interface {
	ListActiveSubscribers(ctx context.Context) ([]alert.Subscriber, error)
	UpsertSubscriber(ctx context.Context, sub alert.Subscriber) error
	DeactivateSubscriber(ctx context.Context, chatID int64) error
}

// ThresholdAlertStore defines operations on one-shot threshold alerts.
type ThresholdAlertStore interface {
	ListActiveAlerts(ctx context.Context) ([]alert.ThresholdAlert, error)
	InsertAlert(ctx context.Context, a alert.ThresholdAlert) (alert.ThresholdAlert, error)
	DeleteAlert(ctx context.Context, id int64) error
}

// WalletStore defines operations on subscriber wallets.
type WalletStore interface {
	ListWallets(ctx context.Context, chatID int64) ([]Wallet, error)
}

// SnapshotStore defines operations for quote snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap QuoteSnapshot) error
	ListSnapshotsBetween(ctx context.Context, assetID string, from, to time.Time) ([]QuoteSnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]QuoteSnapshot, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to subscribers, alerts, wallets and snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// ListActiveSubscribers loads every active subscriber configuration.
func (s *Store) ListActiveSubscribers(ctx context.Context) ([]alert.Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveSubscribersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active subscribers: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]alert.Subscriber, 0)
	for rows.Next() {
		sub, scanErr := scanSubscriber(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// UpsertSubscriber writes a subscriber configuration through.
func (s *Store) UpsertSubscriber(ctx context.Context, sub alert.Subscriber) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, upsertSubscriberSQL,
		sub.ChatID,
		string(sub.Fiat),
		sub.Tracked,
		string(sub.Cadence),
		sub.EmergencyOn,
		sub.EmergencyThreshold.String(),
		sub.Active,
	); execErr != nil {
		return fmt.Errorf("upsert subscriber: %w", execErr)
	}
	return nil
}

// DeactivateSubscriber removes a subscriber from the active set, as
// requested after an unreachable delivery.
func (s *Store) DeactivateSubscriber(ctx context.Context, chatID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deactivateSubscriberSQL, chatID)
	if execErr != nil {
		return fmt.Errorf("deactivate subscriber: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListActiveAlerts loads every threshold alert still armed.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]alert.ThresholdAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]alert.ThresholdAlert, 0)
	for rows.Next() {
		a, scanErr := scanThresholdAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// InsertAlert arms a new threshold alert.
func (s *Store) InsertAlert(ctx context.Context, a alert.ThresholdAlert) (alert.ThresholdAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return alert.ThresholdAlert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		a.ChatID,
		a.AssetID,
		string(a.Direction),
		a.TriggerPrice.String(),
	)

	rec, scanErr := scanThresholdAlert(row)
	if scanErr != nil {
		return alert.ThresholdAlert{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// DeleteAlert destroys a consumed threshold alert.
func (s *Store) DeleteAlert(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertSQL, id); execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	return nil
}

// ListWallets loads the wallets registered by one subscriber.
func (s *Store) ListWallets(ctx context.Context, chatID int64) ([]Wallet, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWalletsSQL, chatID)
	if queryErr != nil {
		return nil, fmt.Errorf("list wallets: %w", queryErr)
	}
	defer rows.Close()

	wallets := make([]Wallet, 0)
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.ChatID, &w.Chain, &w.Address, &w.Label, &w.CreatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return wallets, nil
}

// UpsertSnapshot persists or updates one quote snapshot.
func (s *Store) UpsertSnapshot(ctx context.Context, snap QuoteSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snap.AssetID,
		snap.TickTS,
		snap.PriceUSD.String(),
		snap.Change24h.String(),
		snap.MarketCap.String(),
		snap.Volume24h.String(),
	); execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists one asset's snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, assetID string, from, to time.Time) ([]QuoteSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, assetID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, 0)
}

// ListRecentSnapshots lists the most recent snapshots across assets.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]QuoteSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, limit)
}

func collectSnapshots(rows pgx.Rows, hint int) ([]QuoteSnapshot, error) {
	snaps := make([]QuoteSnapshot, 0, hint)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

func scanSubscriber(rows pgx.Rows) (alert.Subscriber, error) {
	var (
		sub          alert.Subscriber
		fiatStr      string
		cadenceStr   string
		thresholdStr string
	)

	if err := rows.Scan(
		&sub.ChatID,
		&fiatStr,
		&sub.Tracked,
		&cadenceStr,
		&sub.EmergencyOn,
		&thresholdStr,
		&sub.Active,
		&sub.CreatedAt,
	); err != nil {
		return alert.Subscriber{}, err
	}

	fiat, err := catalog.ParseFiat(fiatStr)
	if err != nil {
		return alert.Subscriber{}, fmt.Errorf("subscriber %d: %w", sub.ChatID, err)
	}
	cadence, err := catalog.ParseCadence(cadenceStr)
	if err != nil {
		return alert.Subscriber{}, fmt.Errorf("subscriber %d: %w", sub.ChatID, err)
	}
	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return alert.Subscriber{}, fmt.Errorf("subscriber %d: parse threshold: %w", sub.ChatID, err)
	}

	sub.Fiat = fiat
	sub.Cadence = cadence
	sub.EmergencyThreshold = threshold
	return sub, nil
}

func scanThresholdAlert(row pgx.Row) (alert.ThresholdAlert, error) {
	var (
		a            alert.ThresholdAlert
		directionStr string
		priceStr     string
	)

	if err := row.Scan(
		&a.ID,
		&a.ChatID,
		&a.AssetID,
		&directionStr,
		&priceStr,
		&a.CreatedAt,
	); err != nil {
		return alert.ThresholdAlert{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return alert.ThresholdAlert{}, fmt.Errorf("parse trigger price: %w", err)
	}

	a.Direction = alert.Direction(directionStr)
	a.TriggerPrice = price
	return a, nil
}

func scanSnapshot(rows pgx.Rows) (QuoteSnapshot, error) {
	var (
		snap         QuoteSnapshot
		priceStr     string
		changeStr    string
		marketCapStr string
		volumeStr    string
	)

	if err := rows.Scan(
		&snap.AssetID,
		&snap.TickTS,
		&priceStr,
		&changeStr,
		&marketCapStr,
		&volumeStr,
		&snap.CreatedAt,
	); err != nil {
		return QuoteSnapshot{}, err
	}

	var convErr error
	if snap.PriceUSD, convErr = decimal.NewFromString(priceStr); convErr != nil {
		return QuoteSnapshot{}, fmt.Errorf("parse price: %w", convErr)
	}
	if snap.Change24h, convErr = decimal.NewFromString(changeStr); convErr != nil {
		return QuoteSnapshot{}, fmt.Errorf("parse change: %w", convErr)
	}
	if snap.MarketCap, convErr = decimal.NewFromString(marketCapStr); convErr != nil {
		return QuoteSnapshot{}, fmt.Errorf("parse market cap: %w", convErr)
	}
	if snap.Volume24h, convErr = decimal.NewFromString(volumeStr); convErr != nil {
		return QuoteSnapshot{}, fmt.Errorf("parse volume: %w", convErr)
	}

	return snap, nil
}
