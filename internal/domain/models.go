package domain

import "time"

// DateLayout is the wire and storage layout of a business date.
const DateLayout = "2006-01-02"

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

const (
	ReportKindX = "X"
	ReportKindZ = "Z"
)

type Product struct {
	ID         int64  `json:"id"`
	SKU        string `json:"sku"`
	Barcode    string `json:"barcode,omitempty"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	TaxRateBps int64  `json:"tax_rate_bps"`
	Active     bool   `json:"active"`
}

type PaymentMethod struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Label       string `json:"label"`
	Active      bool   `json:"active"`
	OpensDrawer bool   `json:"opens_drawer"`
	Sort        int    `json:"sort"`
}

// SettlementCode is the string recorded on a tender paid with this method.
func (m PaymentMethod) SettlementCode() string {
	if m.Code != "" {
		return m.Code
	}
	return m.Label
}

// CartItem is a typed cart line handed to the sale builder.
type CartItem struct {
	ProductID         int64
	Qty               int
	UnitCentsOverride *int64
}

// Tender is a typed payment handed to the sale builder. Method wins over
// MethodID when both are set.
type Tender struct {
	MethodID    int64
	Method      string
	AmountCents int64
}

type SaleContext struct {
	TerminalID     string
	CashierID      string
	BusinessDate   string
	IdempotencyKey string
	CreatedAt      time.Time
}

type SaleLine struct {
	ProductID      int64 `json:"product_id"`
	Qty            int   `json:"qty"`
	UnitCents      int64 `json:"unit_cents"`
	TaxRateBps     int64 `json:"tax_rate_bps"`
	SubtotalCents  int64 `json:"subtotal_cents"`
	TaxCents       int64 `json:"tax_cents"`
	LineTotalCents int64 `json:"line_total_cents"`
}

type Payment struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
}

type Sale struct {
	ID             int64      `json:"id"`
	TerminalID     string     `json:"terminal_id"`
	CashierID      string     `json:"cashier_id"`
	BusinessDate   string     `json:"business_date"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	TaxCents       int64      `json:"tax_cents"`
	TotalCents     int64      `json:"total_cents"`
	PaidCents      int64      `json:"paid_cents"`
	ChangeCents    int64      `json:"change_cents"`
	PaymentMethod  string     `json:"payment_method"`
	ReportID       *int64     `json:"z_report_id"`
	CreatedAt      time.Time  `json:"created_at"`
	Lines          []SaleLine `json:"lines"`
	Payments       []Payment  `json:"payments"`
}

// Closed reports whether a Z report has already absorbed the sale.
func (s Sale) Closed() bool {
	return s.ReportID != nil
}

type CreateSaleItem struct {
	ProductID int64  `json:"product_id" binding:"required,gt=0"`
	Qty       int    `json:"qty"`
	UnitCents *int64 `json:"unit_cents,omitempty"`
	UnitPrice string `json:"unit_price,omitempty"`
}

type CreateSalePayment struct {
	MethodID    int64  `json:"method_id,omitempty"`
	Method      string `json:"method,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

type CreateSaleRequest struct {
	TerminalID     string              `json:"terminal_id" binding:"required,max=64"`
	CashierID      string              `json:"cashier_id" binding:"max=64"`
	BusinessDate   string              `json:"business_date,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty" binding:"max=128"`
	ManagerPIN     string              `json:"manager_pin,omitempty"`
	Items          []CreateSaleItem    `json:"items" binding:"dive"`
	Payments       []CreateSalePayment `json:"payments"`
}

// HasPriceOverride reports whether any item replaces the catalog price.
func (r CreateSaleRequest) HasPriceOverride() bool {
	for _, item := range r.Items {
		if item.UnitCents != nil || item.UnitPrice != "" {
			return true
		}
	}
	return false
}

type CreateSaleResponse struct {
	ID            int64  `json:"id"`
	TotalCents    int64  `json:"total_cents"`
	PaidCents     int64  `json:"paid_cents"`
	ChangeCents   int64  `json:"change_cents"`
	PaymentMethod string `json:"payment_method"`
	Duplicate     bool   `json:"duplicate"`
}

type ReportTotals struct {
	SalesCount    int64 `json:"sales_count"`
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
	PaidCents     int64 `json:"paid_cents"`
	ChangeCents   int64 `json:"change_cents"`
}

type MethodTotal struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
}

// Report is an X preview (ID zero, never stored) or a persisted Z snapshot.
type Report struct {
	ID               int64         `json:"id,omitempty"`
	Kind             string        `json:"kind"`
	BusinessDate     string        `json:"business_date"`
	TerminalID       string        `json:"terminal_id,omitempty"`
	CreatedBy        string        `json:"created_by,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	PaymentsByMethod []MethodTotal `json:"payments_by_method"`
	ReportTotals
}

type CloseReportRequest struct {
	Date       string `json:"date" binding:"required"`
	TerminalID string `json:"terminal_id,omitempty" binding:"max=64"`
}

type ReportListResponse struct {
	Reports []Report `json:"reports"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	PIN      string `json:"pin" binding:"required,max=32"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for staff PIN credentials.
type UserAccount struct {
	Username  string
	Name      string
	PINHash   string
	Role      string
	Active    bool
	CreatedAt time.Time
}
