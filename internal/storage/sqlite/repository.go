// Package sqlite provides the SQLite-backed order store.
//
// WAL mode is enabled on Open so that readers never block writers and
// vice versa — important because webhook deliveries write while the
// order endpoints may be reading.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
	"github.com/jcmexdev/marketplace/internal/core/ports"
	"github.com/jcmexdev/marketplace/internal/events"

	// Register the pure-Go SQLite driver.
	// We use modernc.org/sqlite instead of mattn/go-sqlite3 to avoid CGO
	// requirements, making it easier to build and run in Docker (Alpine).
	sqlite3 "modernc.org/sqlite"
)

// schema is the DDL executed once on startup.
// Money columns are TEXT holding decimal strings: SQLite has no decimal
// type and REAL would reintroduce float rounding. Timestamps are
// RFC3339 TEXT (SQLite idiom).
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id          TEXT PRIMARY KEY,
    email       TEXT NOT NULL,
    full_name   TEXT NOT NULL,
    phone       TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    name        TEXT NOT NULL,
    unit_price  TEXT NOT NULL,
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id              TEXT PRIMARY KEY,

    -- Human-facing order code. NULL until payment initiation succeeds;
    -- SQLite permits multiple NULLs under UNIQUE, so pending orders
    -- coexist while assigned codes stay collision-free.
    code            TEXT UNIQUE,

    buyer_id        TEXT NOT NULL,
    owner_id        TEXT NOT NULL,
    total_price     TEXT NOT NULL,
    status          TEXT NOT NULL,

    -- Caller-generated gateway reference, assigned once at creation so
    -- retried initiations reuse it.
    tx_ref          TEXT NOT NULL UNIQUE,

    -- Gateway transfer reference: the sole reconciliation key.
    payment_ref     TEXT UNIQUE,

    -- Gateway authorization object, stored verbatim for audit.
    payment_meta    TEXT,

    -- Client-supplied Idempotency-Key header, when present.
    idempotency_key TEXT UNIQUE,

    address         TEXT NOT NULL DEFAULT '',
    city            TEXT NOT NULL DEFAULT '',
    zip             TEXT NOT NULL DEFAULT '',

    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_buyer_id ON orders(buyer_id);

CREATE TABLE IF NOT EXISTS invoices (
    id          TEXT PRIMARY KEY,
    order_id    TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id  TEXT NOT NULL,
    buyer_id    TEXT NOT NULL,
    owner_id    TEXT NOT NULL,
    quantity    INTEGER NOT NULL,
    unit_price  TEXT NOT NULL,
    discount    TEXT NOT NULL DEFAULT '0',
    total_price TEXT NOT NULL,
    status      TEXT NOT NULL,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_order_id ON invoices(order_id);

-- Staged lifecycle events, drained by the Kafka relay. Rows are written
-- in the same transaction as the order state change they describe.
CREATE TABLE IF NOT EXISTS outbox (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id    TEXT NOT NULL,
    topic       TEXT NOT NULL,
    key         TEXT NOT NULL,
    payload     TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    sent_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_unsent ON outbox(id) WHERE sent_at IS NULL;
`

// Store is the SQLite implementation of ports.OrderRepository,
// ports.CatalogRepository and events.OutboxStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and
// applies the schema.
//
//	store, err := sqlite.Open("./data/marketplace.db")
func Open(path string) (*Store, error) {
	// WAL enables concurrent readers. foreign_keys=on enforces the
	// invoice->order ownership. busy_timeout waits for locks instead of
	// failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateOrder writes the order and all its invoice lines in one
// transaction, so a failed line insert leaves nothing behind.
func (s *Store) CreateOrder(ctx context.Context, o *entity.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin create order: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertOrder = `
		INSERT INTO orders
			(id, buyer_id, owner_id, total_price, status, tx_ref,
			 idempotency_key, address, city, zip, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, insertOrder,
		o.ID,
		o.BuyerID,
		o.OwnerID,
		o.TotalPrice.String(),
		string(o.Status),
		o.TxRef,
		nullableString(o.IdempotencyKey),
		o.Shipping.Address,
		o.Shipping.City,
		o.Shipping.Zip,
		formatTime(o.CreatedAt),
		formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert order %q: %w", o.ID, err)
	}

	const insertInvoice = `
		INSERT INTO invoices
			(id, order_id, product_id, buyer_id, owner_id, quantity,
			 unit_price, discount, total_price, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for i := range o.Invoices {
		inv := &o.Invoices[i]
		_, err = tx.ExecContext(ctx, insertInvoice,
			inv.ID,
			o.ID,
			inv.ProductID,
			inv.BuyerID,
			inv.OwnerID,
			inv.Quantity,
			inv.UnitPrice.String(),
			inv.Discount.String(),
			inv.TotalPrice.String(),
			string(inv.Status),
			formatTime(inv.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert invoice %q: %w", inv.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit create order %q: %w", o.ID, err)
	}
	return nil
}

// GetOrder loads one order with its invoice lines.
func (s *Store) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	return s.getOrder(ctx, `WHERE id = ?`, id)
}

// GetOrderByIdempotencyKey loads the order previously created under the
// given Idempotency-Key, for replayed creation requests.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*entity.Order, error) {
	return s.getOrder(ctx, `WHERE idempotency_key = ?`, key)
}

func (s *Store) getOrder(ctx context.Context, where string, arg any) (*entity.Order, error) {
	q := `
		SELECT id, COALESCE(code,''), buyer_id, owner_id, total_price, status,
		       tx_ref, COALESCE(payment_ref,''), COALESCE(payment_meta,''),
		       COALESCE(idempotency_key,''), address, city, zip,
		       created_at, updated_at
		FROM   orders ` + where

	row := s.db.QueryRowContext(ctx, q, arg)

	var (
		o                             entity.Order
		total, meta, createdAt, updAt string
		status                        string
	)
	err := row.Scan(
		&o.ID, &o.Code, &o.BuyerID, &o.OwnerID, &total, &status,
		&o.TxRef, &o.PaymentRef, &meta,
		&o.IdempotencyKey, &o.Shipping.Address, &o.Shipping.City, &o.Shipping.Zip,
		&createdAt, &updAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: order: %w", ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order: %w", err)
	}

	o.Status = entity.OrderStatus(status)
	if o.TotalPrice, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if meta != "" {
		o.PaymentMeta = json.RawMessage(meta)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updAt); err != nil {
		return nil, err
	}

	if o.Invoices, err = s.invoicesFor(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) invoicesFor(ctx context.Context, orderID string) ([]entity.Invoice, error) {
	const q = `
		SELECT id, order_id, product_id, buyer_id, owner_id, quantity,
		       unit_price, discount, total_price, status, created_at
		FROM   invoices
		WHERE  order_id = ?
		ORDER  BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list invoices for %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []entity.Invoice
	for rows.Next() {
		var (
			inv                          entity.Invoice
			unit, disc, total, createdAt string
			status                       string
		)
		if err := rows.Scan(
			&inv.ID, &inv.OrderID, &inv.ProductID, &inv.BuyerID, &inv.OwnerID,
			&inv.Quantity, &unit, &disc, &total, &status, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan invoice: %w", err)
		}
		inv.Status = entity.InvoiceStatus(status)
		if inv.UnitPrice, err = parseDecimal(unit); err != nil {
			return nil, err
		}
		if inv.Discount, err = parseDecimal(disc); err != nil {
			return nil, err
		}
		if inv.TotalPrice, err = parseDecimal(total); err != nil {
			return nil, err
		}
		if inv.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MarkAwaitingPayment attaches the code, payment reference and metadata
// and promotes the order out of pending, all in one statement guarded
// by the current status. The UNIQUE constraint on orders.code is the
// authority on code collisions: a violation maps to ErrCodeTaken and
// the caller redraws.
func (s *Store) MarkAwaitingPayment(ctx context.Context, orderID, code, paymentRef string, paymentMeta json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin mark awaiting: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		UPDATE orders
		SET    code = ?, status = ?, payment_ref = ?, payment_meta = ?, updated_at = ?
		WHERE  id = ? AND status = ?`

	res, err := tx.ExecContext(ctx, q,
		code,
		string(entity.StatusAwaitingPayment),
		paymentRef,
		nullableString(string(paymentMeta)),
		formatTime(time.Now().UTC()),
		orderID,
		string(entity.StatusPending),
	)
	if err != nil {
		if isUniqueViolation(err, "orders.code") {
			return ports.ErrCodeTaken
		}
		return fmt.Errorf("sqlite: mark awaiting %q: %w", orderID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: mark awaiting %q: %w", orderID, err)
	}
	if n == 0 {
		// Either the order does not exist or it already left pending.
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, orderID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: order %q: %w", orderID, ports.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("sqlite: mark awaiting %q: %w", orderID, err)
		}
		return fmt.Errorf("sqlite: order %q is %s: %w", orderID, status, ports.ErrConflict)
	}

	if err := s.appendOutbox(ctx, tx, orderID, events.EventOrderAwaitingPayment, map[string]any{
		"code":        code,
		"payment_ref": paymentRef,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit mark awaiting %q: %w", orderID, err)
	}
	return nil
}

// Settle applies the terminal transition for the order holding
// paymentRef. The conditional WHERE serializes concurrent deliveries
// through the store: exactly one wins, replays see zero rows and are
// answered from the row's current status.
func (s *Store) Settle(ctx context.Context, paymentRef string, to entity.OrderStatus) (bool, entity.OrderStatus, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", fmt.Errorf("sqlite: begin settle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		UPDATE orders
		SET    status = ?, updated_at = ?
		WHERE  payment_ref = ? AND status = ?
		RETURNING id`

	var orderID string
	err = tx.QueryRowContext(ctx, q,
		string(to),
		formatTime(time.Now().UTC()),
		paymentRef,
		string(entity.StatusAwaitingPayment),
	).Scan(&orderID)

	if errors.Is(err, sql.ErrNoRows) {
		// No transition happened: either an unknown reference or an
		// order that is already terminal (duplicate delivery).
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE payment_ref = ?`, paymentRef).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return false, "", fmt.Errorf("sqlite: payment ref %q: %w", paymentRef, ports.ErrNotFound)
		}
		if err != nil {
			return false, "", fmt.Errorf("sqlite: settle %q: %w", paymentRef, err)
		}
		return false, entity.OrderStatus(status), nil
	}
	if err != nil {
		return false, "", fmt.Errorf("sqlite: settle %q: %w", paymentRef, err)
	}

	eventType := events.EventOrderFailed
	if to == entity.StatusPaid {
		eventType = events.EventOrderPaid
	}
	if err := s.appendOutbox(ctx, tx, orderID, eventType, map[string]any{
		"payment_ref": paymentRef,
	}); err != nil {
		return false, "", err
	}

	if err := tx.Commit(); err != nil {
		return false, "", fmt.Errorf("sqlite: commit settle %q: %w", paymentRef, err)
	}
	return true, to, nil
}

func (s *Store) appendOutbox(ctx context.Context, tx *sql.Tx, orderID, eventType string, payload map[string]any) error {
	ev := events.Event{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sqlite: marshal event %s: %w", eventType, err)
	}

	const q = `
		INSERT INTO outbox (event_id, topic, key, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`

	if _, err := tx.ExecContext(ctx, q, ev.EventID, events.TopicOrders, orderID, string(data), formatTime(ev.CreatedAt)); err != nil {
		return fmt.Errorf("sqlite: append outbox %s: %w", eventType, err)
	}
	return nil
}

// FetchPendingOutbox returns unsent outbox rows in insertion order.
func (s *Store) FetchPendingOutbox(ctx context.Context, limit int) ([]events.Record, error) {
	const q = `
		SELECT id, event_id, topic, key, payload, created_at
		FROM   outbox
		WHERE  sent_at IS NULL
		ORDER  BY id
		LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch outbox: %w", err)
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var (
			rec       events.Record
			payload   string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan outbox: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkOutboxSent stamps one row as published.
func (s *Store) MarkOutboxSent(ctx context.Context, id int64) error {
	const q = `UPDATE outbox SET sent_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, formatTime(time.Now().UTC()), id); err != nil {
		return fmt.Errorf("sqlite: mark outbox sent %d: %w", id, err)
	}
	return nil
}

// GetProduct implements the catalog read side.
func (s *Store) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	const q = `SELECT id, owner_id, name, unit_price, created_at FROM products WHERE id = ?`

	var (
		p              entity.Product
		price, created string
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&p.ID, &p.OwnerID, &p.Name, &price, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: product %q: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get product %q: %w", id, err)
	}
	if p.UnitPrice, err = parseDecimal(price); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetUser implements the catalog read side.
func (s *Store) GetUser(ctx context.Context, id string) (*entity.User, error) {
	const q = `SELECT id, email, full_name, phone, created_at FROM users WHERE id = ?`

	var (
		u       entity.User
		created string
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &u.FullName, &u.Phone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: user %q: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get user %q: %w", id, err)
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}

// SaveUser and SaveProduct exist for the catalog CRUD that lives
// outside this pipeline (and for test fixtures); the pipeline itself
// never writes the catalog.

func (s *Store) SaveUser(ctx context.Context, u *entity.User) error {
	const q = `
		INSERT OR REPLACE INTO users (id, email, full_name, phone, created_at)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, u.ID, u.Email, u.FullName, u.Phone, formatTime(u.CreatedAt)); err != nil {
		return fmt.Errorf("sqlite: save user %q: %w", u.ID, err)
	}
	return nil
}

func (s *Store) SaveProduct(ctx context.Context, p *entity.Product) error {
	const q = `
		INSERT OR REPLACE INTO products (id, owner_id, name, unit_price, created_at)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, p.ID, p.OwnerID, p.Name, p.UnitPrice.String(), formatTime(p.CreatedAt)); err != nil {
		return fmt.Errorf("sqlite: save product %q: %w", p.ID, err)
	}
	return nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("sqlite: parse decimal %q: %w", s, err)
	}
	return d, nil
}

// nullableString returns nil for empty strings so SQLite stores NULL —
// required for the UNIQUE columns that stay unset on pending orders.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure
// on the given column. SQLITE_CONSTRAINT_UNIQUE is extended code 2067;
// the column check disambiguates code collisions from, say, a reused
// payment reference.
func isUniqueViolation(err error, column string) bool {
	var se *sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() != 2067 {
		return false
	}
	return strings.Contains(se.Error(), column)
}
