package domain

import (
	"encoding/json"
	"time"
)

// Product is master reference data. The terminal never mutates products;
// they are loaded into the local store by the master-data sync.
type Product struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Barcode        string  `json:"barcode"`
	Category       string  `json:"category"`
	PriceCents     int64   `json:"price_cents"`
	CostCents      int64   `json:"cost_cents"`
	TaxRatePercent float64 `json:"tax_rate_percent"`
	Active         bool    `json:"active"`
}

// Customer is master reference data, read-only for the terminal.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// InventoryRecord tracks local stock per product. Stock may go negative when
// the terminal oversells while offline; the server reconciles on sync.
type InventoryRecord struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	CurrentStock int       `json:"current_stock"`
	LastUpdated  time.Time `json:"last_updated"`
}

// CartItem is one line of the in-progress transaction. TotalCents is always
// PriceCents * Quantity, maintained by the engine's totals recompute.
type CartItem struct {
	ID             string  `json:"id"`
	ProductID      string  `json:"product_id"`
	Name           string  `json:"name"`
	PriceCents     int64   `json:"price_cents"`
	Quantity       int     `json:"quantity"`
	TotalCents     int64   `json:"total_cents"`
	TaxRatePercent float64 `json:"tax_rate_percent"`
	Barcode        string  `json:"barcode"`
	Category       string  `json:"category"`
	CostCents      int64   `json:"cost_cents"`
}

// Payment is immutable once appended to a transaction.
type Payment struct {
	ID          string    `json:"id"`
	Method      string    `json:"method"`
	AmountCents int64     `json:"amount_cents"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Transaction struct {
	ID             string     `json:"id"`
	OperatorID     string     `json:"operator_id"`
	SessionID      string     `json:"session_id"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	Items          []CartItem `json:"items"`
	CustomerID     string     `json:"customer_id,omitempty"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	TaxCents       int64      `json:"tax_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	TotalCents     int64      `json:"total_cents"`
	Payments       []Payment  `json:"payments"`
	TotalPaidCents int64      `json:"total_paid_cents"`
	ChangeCents    int64      `json:"change_cents"`
	Notes          string     `json:"notes,omitempty"`
	SuspendedAt    *time.Time `json:"suspended_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	SyncStatus     string     `json:"sync_status"`
}

type Shift struct {
	ID                string     `json:"id"`
	OperatorID        string     `json:"operator_id"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	OpeningCashCents  int64      `json:"opening_cash_cents"`
	ClosingCashCents  *int64     `json:"closing_cash_cents,omitempty"`
	TotalSalesCents   int64      `json:"total_sales_cents"`
	TotalTransactions int        `json:"total_transactions"`
	Status            string     `json:"status"`
	SyncStatus        string     `json:"sync_status"`
}

// CashOperation is one cash movement inside a drawer: the opening float, a
// sale, a paid-in/paid-out, or the closing count.
type CashOperation struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CashDrawer struct {
	ID               string          `json:"id"`
	ShiftID          string          `json:"shift_id"`
	OpeningCashCents int64           `json:"opening_cash_cents"`
	CurrentCashCents int64           `json:"current_cash_cents"`
	Status           string          `json:"status"`
	Operations       []CashOperation `json:"operations"`
	ClosingCashCents *int64          `json:"closing_cash_cents,omitempty"`
	SyncStatus       string          `json:"sync_status"`
}

// SyncQueueItem is one pending outbound mutation. The payload is the full
// entity snapshot at enqueue time; the external synchronizer owns delivery.
type SyncQueueItem struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"`
	CreatedAt  time.Time       `json:"created_at"`
	Status     string          `json:"status"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
}

type ReceiptLine struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
	TotalCents int64  `json:"total_cents"`
}

type ReceiptPayment struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
}

type ReceiptTotals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
	PaidCents     int64 `json:"paid_cents"`
	ChangeCents   int64 `json:"change_cents"`
}

type ReceiptContent struct {
	Header   []string         `json:"header"`
	Items    []ReceiptLine    `json:"items"`
	Totals   ReceiptTotals    `json:"totals"`
	Payments []ReceiptPayment `json:"payments"`
	Footer   []string         `json:"footer"`
}

// Receipt is written once per completed transaction and never mutated by the
// terminal afterwards; print and email delivery are external concerns.
type Receipt struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id"`
	CreatedAt     time.Time      `json:"created_at"`
	Content       ReceiptContent `json:"content"`
	Status        string         `json:"status"`
	PrintStatus   string         `json:"print_status"`
	EmailStatus   string         `json:"email_status"`
}

// TransactionStats summarises completed transactions for the current day.
type TransactionStats struct {
	Count              int   `json:"count"`
	GrossCents         int64 `json:"gross_cents"`
	TaxCents           int64 `json:"tax_cents"`
	AverageTicketCents int64 `json:"average_ticket_cents"`
}

const (
	TxStatusInProgress = "in_progress"
	TxStatusSuspended  = "suspended"
	TxStatusCompleted  = "completed"
)

const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
)

const (
	ShiftStatusActive    = "active"
	ShiftStatusCompleted = "completed"
)

const (
	DrawerStatusOpen   = "open"
	DrawerStatusClosed = "closed"
)

const (
	CashOpOpenFloat  = "open_float"
	CashOpSale       = "sale"
	CashOpPaidIn     = "paid_in"
	CashOpPaidOut    = "paid_out"
	CashOpCloseCount = "close_count"
)

const (
	QueueStatusPending   = "pending"
	QueueStatusCompleted = "completed"
	QueueStatusFailed    = "failed"
)

const (
	QueueOpCreate = "create"
	QueueOpUpdate = "update"
	QueueOpDelete = "delete"
)

const (
	ReceiptStatusGenerated = "generated"
	DeliveryStatusPending  = "pending"
)
