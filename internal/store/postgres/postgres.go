package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"nexora/backend/internal/cart"
	"nexora/backend/internal/catalog"
	"nexora/backend/internal/domain"
	"nexora/backend/internal/pricing"
	"nexora/backend/internal/store"
	"nexora/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and seeds the reference catalog and
// discount codes. Existing rows are left alone, so it is safe on every boot.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range catalog.ReferenceItems() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, name, price_cents, original_price_cents, image_url, rating, brand, color, active)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,true)
			ON CONFLICT (id) DO NOTHING
		`, item.ID, item.Name, item.PriceCents, item.OriginalPriceCents, item.ImageURL, item.Rating, item.Brand, item.Color)
		if err != nil {
			return fmt.Errorf("seed item %d: %w", item.ID, err)
		}
	}
	for _, code := range pricing.ReferenceCodes() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO discount_codes (code, rate, active)
			VALUES ($1,$2,$3)
			ON CONFLICT (code) DO NOTHING
		`, code.Code, code.Rate, code.Active)
		if err != nil {
			return fmt.Errorf("seed discount code %s: %w", code.Code, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents, original_price_cents, image_url, rating, brand, color
		FROM items
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 32)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceCents, &item.OriginalPriceCents, &item.ImageURL, &item.Rating, &item.Brand, &item.Color); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Item, error) {
	return getItemsByIDs(ctx, s.db, ids)
}

func getItemsByIDs(ctx context.Context, q queryer, ids []int64) (map[int64]domain.Item, error) {
	result := make(map[int64]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, name, price_cents, original_price_cents, image_url, rating, brand, color
		FROM items
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceCents, &item.OriginalPriceCents, &item.ImageURL, &item.Rating, &item.Brand, &item.Color); err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) FindDiscountCode(ctx context.Context, code string) (*domain.DiscountCode, error) {
	var found domain.DiscountCode
	err := s.db.QueryRowContext(ctx, `
		SELECT code, rate, active
		FROM discount_codes
		WHERE code = $1
	`, code).Scan(&found.Code, &found.Rate, &found.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &found, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Email = normalizeEmail(user.Email)
	if user.ID == "" || user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.ID, user.Name, user.Email, user.Password, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	return s.findUser(ctx, "email", normalizeEmail(email))
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	return s.findUser(ctx, "id", id)
}

func (s *Store) findUser(ctx context.Context, column string, value string) (*domain.UserAccount, error) {
	if column != "id" && column != "email" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var user domain.UserAccount
	query := fmt.Sprintf(`
		SELECT id, name, email, password, created_at
		FROM users
		WHERE %s = $1
	`, column)
	err := s.db.QueryRowContext(ctx, query, value).Scan(&user.ID, &user.Name, &user.Email, &user.Password, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID string, password string) error {
	if userID == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2, updated_at = now()
		WHERE id = $1
	`, userID, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetCart(ctx context.Context, userID string) ([]domain.Line, error) {
	return listLines(ctx, s.db, userID, false)
}

func (s *Store) AddCartItem(ctx context.Context, userID string, item domain.Item, qty int) ([]domain.Line, error) {
	if qty < 1 {
		return nil, store.ErrInvalidRequest
	}
	if qty > domain.MaxLineQuantity {
		return nil, domain.ErrQuantityLimit
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertLine(ctx, tx, userID, item.ID, qty, false); err != nil {
		return nil, err
	}
	lines, err := listLines(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) SetCartLineQuantity(ctx context.Context, userID string, lineID string, qty int) ([]domain.Line, error) {
	if qty <= 0 {
		return s.RemoveCartLine(ctx, userID, lineID)
	}
	if qty > domain.MaxLineQuantity {
		return nil, domain.ErrQuantityLimit
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Unknown or foreign line ids update nothing, which is the contract.
	if _, err := tx.ExecContext(ctx, `
		UPDATE cart_lines
		SET quantity = $3
		WHERE user_id = $1 AND id = $2
	`, userID, lineID, qty); err != nil {
		return nil, err
	}
	lines, err := listLines(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) RemoveCartLine(ctx context.Context, userID string, lineID string) ([]domain.Line, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM cart_lines
		WHERE user_id = $1 AND id = $2
	`, userID, lineID); err != nil {
		return nil, err
	}
	lines, err := listLines(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lines, nil
}

// MergeCart applies all entries in one transaction. Any invalid entry rolls
// the whole merge back.
func (s *Store) MergeCart(ctx context.Context, userID string, entries []domain.CartEntry) ([]domain.Line, error) {
	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if entry.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		ids = append(ids, entry.Item.ID)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	known, err := getItemsByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return nil, domain.ErrItemNotFound
		}
	}

	for _, entry := range entries {
		if err := upsertLine(ctx, tx, userID, entry.Item.ID, entry.Quantity, true); err != nil {
			return nil, err
		}
	}
	lines, err := listLines(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Checkout locks the buyer's cart rows, lets build price them, then stores
// the receipt and deletes the rows in the same transaction.
func (s *Store) Checkout(ctx context.Context, userID string, build store.ReceiptBuilder) (*domain.Receipt, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	lines, err := listLines(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}
	receipt, err := build(lines)
	if err != nil {
		return nil, err
	}
	if receipt.ID == "" {
		return nil, store.ErrInvalidRequest
	}
	receipt.UserID = userID
	if receipt.CheckedOutAt.IsZero() {
		receipt.CheckedOutAt = time.Now().UTC()
	}

	payload, err := json.Marshal(domain.CloneLines(receipt.Lines))
	if err != nil {
		return nil, err
	}
	var discountCode any
	var discountCents int64
	if receipt.Discount != nil {
		discountCode = receipt.Discount.Code
		discountCents = receipt.Discount.AmountCents
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts (
			id, user_id, idempotency_key, lines, subtotal_cents, discount_code,
			discount_cents, total_cents, buyer_name, buyer_email, checked_out_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, receipt.ID, userID, nullIfEmpty(receipt.IdempotencyKey), payload, receipt.SubtotalCents, discountCode,
		discountCents, receipt.TotalCents, receipt.Buyer.Name, receipt.Buyer.Email, receipt.CheckedOutAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := domain.CloneReceipt(receipt)
	return &saved, nil
}

func (s *Store) FindReceiptByIdempotency(ctx context.Context, userID string, key string) (*domain.Receipt, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return s.findReceipt(ctx, "idempotency_key", userID, key)
}

func (s *Store) FindReceiptByID(ctx context.Context, userID string, id string) (*domain.Receipt, error) {
	return s.findReceipt(ctx, "id", userID, id)
}

const receiptColumns = `
	id, user_id, COALESCE(idempotency_key,''), lines, subtotal_cents, discount_code,
	discount_cents, total_cents, buyer_name, buyer_email, checked_out_at
`

func (s *Store) findReceipt(ctx context.Context, column string, userID string, value string) (*domain.Receipt, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	query := fmt.Sprintf(`SELECT %s FROM receipts WHERE user_id = $1 AND %s = $2`, receiptColumns, column)
	receipt, err := scanReceipt(s.db.QueryRowContext(ctx, query, userID, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return receipt, nil
}

func (s *Store) ListReceipts(ctx context.Context, userID string, limit int) ([]domain.Receipt, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM receipts
		WHERE user_id = $1
		ORDER BY checked_out_at DESC
		LIMIT $2
	`, receiptColumns), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]domain.Receipt, 0, limit)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*domain.Receipt, error) {
	var receipt domain.Receipt
	var payload []byte
	var discountCode sql.NullString
	var discountCents int64
	err := row.Scan(
		&receipt.ID,
		&receipt.UserID,
		&receipt.IdempotencyKey,
		&payload,
		&receipt.SubtotalCents,
		&discountCode,
		&discountCents,
		&receipt.TotalCents,
		&receipt.Buyer.Name,
		&receipt.Buyer.Email,
		&receipt.CheckedOutAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &receipt.Lines); err != nil {
		return nil, fmt.Errorf("decode receipt lines: %w", err)
	}
	receipt.Lines = domain.CloneLines(receipt.Lines)
	if discountCode.Valid {
		receipt.Discount = &domain.ReceiptDiscount{Code: discountCode.String, AmountCents: discountCents}
	}
	receipt.CheckedOutAt = receipt.CheckedOutAt.UTC()
	return &receipt, nil
}

func listLines(ctx context.Context, q queryer, userID string, forUpdate bool) ([]domain.Line, error) {
	query := `
		SELECT cl.id, cl.quantity,
			i.id, i.name, i.price_cents, i.original_price_cents, i.image_url, i.rating, i.brand, i.color
		FROM cart_lines cl
		JOIN items i ON i.id = cl.item_id
		WHERE cl.user_id = $1
		ORDER BY cl.position ASC
	`
	if forUpdate {
		query += ` FOR UPDATE OF cl`
	}

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.Line, 0, 8)
	for rows.Next() {
		var line domain.Line
		item := &line.Item
		if err := rows.Scan(&line.ID, &line.Quantity, &item.ID, &item.Name, &item.PriceCents, &item.OriginalPriceCents, &item.ImageURL, &item.Rating, &item.Brand, &item.Color); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// upsertLine adds qty to the buyer's line for itemID, creating it if needed.
// The (user_id, item_id) unique key keeps one line per item. Adding past
// domain.MaxLineQuantity updates nothing and fails with ErrQuantityLimit;
// merging caps the line instead.
func upsertLine(ctx context.Context, tx *sql.Tx, userID string, itemID int64, qty int, capAtLimit bool) error {
	query := `
		INSERT INTO cart_lines (id, user_id, item_id, quantity)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, item_id)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity
		WHERE cart_lines.quantity + EXCLUDED.quantity <= $5
	`
	if capAtLimit {
		qty = min(qty, domain.MaxLineQuantity)
		query = `
		INSERT INTO cart_lines (id, user_id, item_id, quantity)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, item_id)
		DO UPDATE SET quantity = LEAST(cart_lines.quantity + EXCLUDED.quantity, $5)
	`
	}
	result, err := tx.ExecContext(ctx, query, cart.NewLineID(), userID, itemID, qty, domain.MaxLineQuantity)
	if err != nil {
		if isForeignKeyViolation(err, "cart_lines_item_id_fkey") {
			return domain.ErrItemNotFound
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrQuantityLimit
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" && pgErr.ConstraintName == constraint
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
