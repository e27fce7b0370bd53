package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/report"
	"tillbook/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
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

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	// No arguments, so the driver sends the whole script over the simple protocol.
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const productColumns = `
	p.id, p.sku, COALESCE(p.barcode, ''), p.name, p.price_cents, COALESCE(t.rate_bps, 0), p.is_active
	FROM products p
	LEFT JOIN tax_rates t ON t.id = p.tax_rate_id`

func scanProduct(rows *sql.Rows) (domain.Product, error) {
	var p domain.Product
	err := rows.Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.PriceCents, &p.TaxRateBps, &p.Active)
	return p, err
}

// ListProducts filters in SQL. An empty parameter disables its clause, and
// strpos keeps the substring match free of LIKE wildcards.
func (s *Store) ListProducts(ctx context.Context, filter store.ProductFilter) ([]domain.Product, error) {
	filter = filter.Normalize()
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+`
		WHERE p.is_active = true
		  AND ($1::text = '' OR p.sku = $1)
		  AND ($2::text = '' OR p.barcode = $2)
		  AND ($3::text = '' OR strpos(lower(p.name), lower($3)) > 0
		               OR strpos(lower(p.sku), lower($3)) > 0
		               OR strpos(lower(COALESCE(p.barcode, '')), lower($3)) > 0)
		ORDER BY p.name, p.id
		LIMIT $4
	`, filter.SKU, filter.Barcode, filter.Query, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, filter.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+`
		WHERE p.is_active = true AND p.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, label, is_active, opens_drawer, sort
		FROM payment_methods
		WHERE is_active = true
		ORDER BY sort, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := make([]domain.PaymentMethod, 0, 8)
	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Code, &m.Label, &m.Active, &m.OpensDrawer, &m.Sort); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}

func (s *Store) GetPaymentMethodsByIDs(ctx context.Context, ids []int64) (map[int64]domain.PaymentMethod, error) {
	result := make(map[int64]domain.PaymentMethod, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, label, is_active, opens_drawer, sort
		FROM payment_methods
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Code, &m.Label, &m.Active, &m.OpensDrawer, &m.Sort); err != nil {
			return nil, err
		}
		result[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := store.ValidateSale(sale); err != nil {
		return nil, err
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO sales (
			terminal_id, cashier_id, business_date, idempotency_key,
			subtotal_cents, tax_cents, total_cents, paid_cents, change_cents,
			payment_method, created_at
		)
		VALUES ($1,$2,$3::date,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`,
		sale.TerminalID,
		sale.CashierID,
		sale.BusinessDate,
		nullIfEmpty(sale.IdempotencyKey),
		sale.SubtotalCents,
		sale.TaxCents,
		sale.TotalCents,
		sale.PaidCents,
		sale.ChangeCents,
		sale.PaymentMethod,
		sale.CreatedAt,
	).Scan(&sale.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSale
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (
				sale_id, product_id, qty, unit_cents, tax_rate_bps,
				subtotal_cents, tax_cents, line_total_cents
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, line.ProductID, line.Qty, line.UnitCents, line.TaxRateBps, line.SubtotalCents, line.TaxCents, line.LineTotalCents)
		if err != nil {
			return nil, err
		}
	}

	for _, payment := range sale.Payments {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO payments (sale_id, method, amount_cents)
			VALUES ($1,$2,$3)
		`, sale.ID, payment.Method, payment.AmountCents)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

const saleColumns = `
	id, terminal_id, cashier_id, to_char(business_date, 'YYYY-MM-DD'), COALESCE(idempotency_key, ''),
	subtotal_cents, tax_cents, total_cents, paid_cents, change_cents,
	payment_method, z_report_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var reportID sql.NullInt64
	err := row.Scan(
		&sale.ID,
		&sale.TerminalID,
		&sale.CashierID,
		&sale.BusinessDate,
		&sale.IdempotencyKey,
		&sale.SubtotalCents,
		&sale.TaxCents,
		&sale.TotalCents,
		&sale.PaidCents,
		&sale.ChangeCents,
		&sale.PaymentMethod,
		&reportID,
		&sale.CreatedAt,
	)
	if err != nil {
		return domain.Sale{}, err
	}
	if reportID.Valid {
		id := reportID.Int64
		sale.ReportID = &id
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value any) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	query := fmt.Sprintf(`SELECT %s FROM sales WHERE %s = $1`, saleColumns, column)
	sale, err := scanSale(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	sales := []domain.Sale{sale}
	if err := loadLines(ctx, s.db, sales); err != nil {
		return nil, err
	}
	if err := loadPayments(ctx, s.db, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) ListOpenSales(ctx context.Context, scope store.Scope) ([]domain.Sale, error) {
	sales, err := selectOpenSales(ctx, s.db, scope, false)
	if err != nil {
		return nil, err
	}
	if err := loadPayments(ctx, s.db, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func selectOpenSales(ctx context.Context, q queryer, scope store.Scope, forUpdate bool) ([]domain.Sale, error) {
	query := `SELECT ` + saleColumns + `
		FROM sales
		WHERE business_date = $1::date AND z_report_id IS NULL
			AND ($2::text = '' OR terminal_id = $2)
		ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.QueryContext(ctx, query, scope.BusinessDate, scope.TerminalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func saleIDs(sales []domain.Sale) ([]int64, map[int64]int) {
	ids := make([]int64, 0, len(sales))
	index := make(map[int64]int, len(sales))
	for i, sale := range sales {
		ids = append(ids, sale.ID)
		index[sale.ID] = i
	}
	return ids, index
}

func loadLines(ctx context.Context, q queryer, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids, index := saleIDs(sales)

	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, product_id, qty, unit_cents, tax_rate_bps, subtotal_cents, tax_cents, line_total_cents
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID int64
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.Qty, &line.UnitCents, &line.TaxRateBps, &line.SubtotalCents, &line.TaxCents, &line.LineTotalCents); err != nil {
			return err
		}
		i := index[saleID]
		sales[i].Lines = append(sales[i].Lines, line)
	}
	return rows.Err()
}

func loadPayments(ctx context.Context, q queryer, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids, index := saleIDs(sales)

	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, method, amount_cents
		FROM payments
		WHERE sale_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID int64
		var payment domain.Payment
		if err := rows.Scan(&saleID, &payment.Method, &payment.AmountCents); err != nil {
			return err
		}
		i := index[saleID]
		sales[i].Payments = append(sales[i].Payments, payment)
	}
	return rows.Err()
}

// CloseReport locks the open sales of scope, writes the snapshot and stamps
// the locked rows. The stamp only touches rows still open; if fewer rows
// change than were selected, another close won and the transaction is
// rolled back.
func (s *Store) CloseReport(ctx context.Context, scope store.Scope, closedBy string, at time.Time) (*domain.Report, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	open, err := selectOpenSales(ctx, pgTx, scope, true)
	if err != nil {
		return nil, err
	}
	// A concurrent close that committed first leaves the re-checked rows
	// stamped, so they drop out of the locked selection.
	if len(open) == 0 {
		return nil, store.ErrNothingToClose
	}
	if err := loadPayments(ctx, pgTx, open); err != nil {
		return nil, err
	}

	snapshot := report.Snapshot(scope.BusinessDate, scope.TerminalID, closedBy, open, at.UTC())
	breakdown, err := json.Marshal(snapshot.PaymentsByMethod)
	if err != nil {
		return nil, err
	}

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO z_reports (
			business_date, terminal_id, created_by, sales_count,
			subtotal_cents, tax_cents, total_cents, paid_cents, change_cents,
			payments_by_method, created_at
		)
		VALUES ($1::date,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11)
		RETURNING id
	`,
		snapshot.BusinessDate,
		nullIfEmpty(snapshot.TerminalID),
		snapshot.CreatedBy,
		snapshot.SalesCount,
		snapshot.SubtotalCents,
		snapshot.TaxCents,
		snapshot.TotalCents,
		snapshot.PaidCents,
		snapshot.ChangeCents,
		string(breakdown),
		snapshot.CreatedAt,
	).Scan(&snapshot.ID)
	if err != nil {
		return nil, err
	}

	ids, _ := saleIDs(open)
	result, err := pgTx.ExecContext(ctx, `
		UPDATE sales
		SET z_report_id = $1
		WHERE id = ANY($2) AND z_report_id IS NULL
	`, snapshot.ID, ids)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected != int64(len(ids)) {
		return nil, store.ErrConcurrentClose
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

const reportColumns = `
	id, to_char(business_date, 'YYYY-MM-DD'), COALESCE(terminal_id, ''), created_by, sales_count,
	subtotal_cents, tax_cents, total_cents, paid_cents, change_cents,
	payments_by_method, created_at`

func scanReport(row rowScanner) (domain.Report, error) {
	var r domain.Report
	var breakdown []byte
	err := row.Scan(
		&r.ID,
		&r.BusinessDate,
		&r.TerminalID,
		&r.CreatedBy,
		&r.SalesCount,
		&r.SubtotalCents,
		&r.TaxCents,
		&r.TotalCents,
		&r.PaidCents,
		&r.ChangeCents,
		&breakdown,
		&r.CreatedAt,
	)
	if err != nil {
		return domain.Report{}, err
	}
	r.Kind = domain.ReportKindZ
	r.CreatedAt = r.CreatedAt.UTC()
	r.PaymentsByMethod = []domain.MethodTotal{}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &r.PaymentsByMethod); err != nil {
			return domain.Report{}, err
		}
	}
	return r, nil
}

func (s *Store) FindReportByID(ctx context.Context, id int64) (*domain.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM z_reports WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListReports(ctx context.Context, filter store.ReportFilter) ([]domain.Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+`
		FROM z_reports
		WHERE ($1 = '' OR business_date = NULLIF($1, '')::date)
			AND ($2::text = '' OR terminal_id = $2)
		ORDER BY business_date DESC, id DESC
		LIMIT $3
	`, filter.BusinessDate, filter.TerminalID, store.ClampLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.Report, 0, 16)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, name, pin_hash, role, is_active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Name, &user.PINHash, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
