// Package engine drives the sale lifecycle: one in-progress transaction per
// engine, moved through cart edits and payments to completion, suspension, or
// resume. Every mutation recomputes totals through one routine and is
// persisted before the in-memory snapshot is swapped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"salepoint/terminal/internal/cache"
	"salepoint/terminal/internal/domain"
	"salepoint/terminal/internal/events"
	"salepoint/terminal/internal/localstore"
	"salepoint/terminal/internal/syncqueue"
	"salepoint/terminal/internal/xid"
)

// SaleRecorder receives completed sale totals. Satisfied by the shift
// manager; a nil recorder is allowed.
type SaleRecorder interface {
	RecordTransaction(ctx context.Context, totalCents int64) error
}

type Engine struct {
	mu         sync.Mutex
	store      localstore.Store
	queue      *syncqueue.Queue
	sales      SaleRecorder
	bus        *events.Bus
	products   cache.ProductCache
	cacheTTL   time.Duration
	operatorID string
	sessionID  string
	log        *logrus.Entry
	current    *domain.Transaction
}

func New(store localstore.Store, queue *syncqueue.Queue, sales SaleRecorder, bus *events.Bus, products cache.ProductCache, cacheTTL time.Duration, operatorID, sessionID string) *Engine {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	return &Engine{
		store:      store,
		queue:      queue,
		sales:      sales,
		bus:        bus,
		products:   products,
		cacheTTL:   cacheTTL,
		operatorID: operatorID,
		sessionID:  sessionID,
		log:        logrus.WithField("component", "engine"),
	}
}

// StartTransaction opens a new in-progress transaction. Empty operator or
// session identifiers fall back to the engine's configured defaults.
func (e *Engine) StartTransaction(ctx context.Context, operatorID, sessionID string) (*domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		return nil, &TransactionConflictError{ExistingID: e.current.ID}
	}

	if operatorID == "" {
		operatorID = e.operatorID
	}
	if sessionID == "" {
		sessionID = e.sessionID
	}
	tx := domain.Transaction{
		ID:         xid.New("tx"),
		OperatorID: operatorID,
		SessionID:  sessionID,
		Status:     domain.TxStatusInProgress,
		CreatedAt:  time.Now().UTC(),
		Items:      []domain.CartItem{},
		Payments:   []domain.Payment{},
		SyncStatus: domain.SyncStatusPending,
	}
	if _, err := e.store.Add(ctx, localstore.CollTransactions, tx); err != nil {
		return nil, err
	}
	e.current = &tx
	return cloneTransaction(&tx), nil
}

// AddItem puts a product line in the cart. Adding a product already in the
// cart merges into the existing line.
func (e *Engine) AddItem(ctx context.Context, product domain.Product, quantity int) (*domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil, ErrNoActiveTransaction
	}
	if quantity <= 0 {
		return nil, &InvalidQuantityError{ProductID: product.ID, Quantity: quantity}
	}

	tx := cloneTransaction(e.current)
	merged := false
	for i := range tx.Items {
		if tx.Items[i].ProductID == product.ID {
			tx.Items[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		tx.Items = append(tx.Items, domain.CartItem{
			ID:             xid.New("line"),
			ProductID:      product.ID,
			Name:           product.Name,
			PriceCents:     product.PriceCents,
			Quantity:       quantity,
			TaxRatePercent: product.TaxRatePercent,
			Barcode:        product.Barcode,
			Category:       product.Category,
			CostCents:      product.CostCents,
		})
	}
	return e.commit(ctx, tx)
}

// UpdateItemQuantity sets the cart line for a product to a new quantity.
// Zero or negative removes the line.
func (e *Engine) UpdateItemQuantity(ctx context.Context, productID string, quantity int) (*domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil, ErrNoActiveTransaction
	}

	tx := cloneTransaction(e.current)
	if quantity <= 0 {
		tx.Items = removeItem(tx.Items, productID)
		return e.commit(ctx, tx)
	}
	for i := range tx.Items {
		if tx.Items[i].ProductID == productID {
			tx.Items[i].Quantity = quantity
			break
		}
	}
	return e.commit(ctx, tx)
}

// RemoveItem drops a product's line from the cart. Removing an absent line
// is a no-op.
func (e *Engine) RemoveItem(ctx context.Context, productID string) (*domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil, ErrNoActiveTransaction
	}

	tx := cloneTransaction(e.current)
	tx.Items = removeItem(tx.Items, productID)
	return e.commit(ctx, tx)
}

// AddPayment appends a payment to the in-progress transaction. Payments are
// immutable once added; change may be negative while the balance is still
// owed.
func (e *Engine) AddPayment(ctx context.Context, method string, amountCents int64, reference string) (*domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil, ErrNoActiveTransaction
	}
	if amountCents <= 0 {
		return nil, &InvalidPaymentAmountError{AmountCents: amountCents}
	}

	tx := cloneTransaction(e.current)
	tx.Payments = append(tx.Payments, domain.Payment{
		ID:          xid.New("pay"),
		Method:      method,
		AmountCents: amountCents,
		Reference:   reference,
		CreatedAt:   time.Now().UTC(),
	})
	return e.commit(ctx, tx)
}

// SetCustomer attaches a customer to the in-progress transaction.
func (e *Engine) SetCustomer(ctx context.Context, customerID string) (*domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil, ErrNoActiveTransaction
	}
	if _, err := localstore.Get[domain.Customer](ctx, e.store, localstore.CollCustomers, customerID); err != nil {
		return nil, err
	}

	tx := cloneTransaction(e.current)
	tx.CustomerID = customerID
	return e.commit(ctx, tx)
}

// CompleteTransaction finalizes the sale: validates the cart and payments,
// persists completion, then runs the post-completion bookkeeping (inventory
// decrement, sync enqueue, receipt, shift totals). Bookkeeping failures are
// aggregated and returned alongside the completed snapshot; the sale itself
// has already committed.
func (e *Engine) CompleteTransaction(ctx context.Context) (*domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil, ErrNoActiveTransaction
	}
	if len(e.current.Items) == 0 {
		return nil, ErrEmptyTransaction
	}
	if e.current.TotalPaidCents < e.current.TotalCents {
		return nil, &InsufficientPaymentError{
			TotalCents: e.current.TotalCents,
			PaidCents:  e.current.TotalPaidCents,
		}
	}

	now := time.Now().UTC()
	tx := cloneTransaction(e.current)
	tx.Status = domain.TxStatusCompleted
	tx.CompletedAt = &now
	tx.SuspendedAt = nil
	recalculate(tx)

	if err := e.store.Update(ctx, localstore.CollTransactions, tx); err != nil {
		return nil, err
	}
	e.current = nil

	var bookkeeping []error
	if err := e.decrementInventory(ctx, tx); err != nil {
		bookkeeping = append(bookkeeping, err)
	}
	if _, err := e.queue.Enqueue(ctx, "transaction", tx.ID, domain.QueueOpCreate, tx, syncqueue.PriorityTransaction); err != nil {
		bookkeeping = append(bookkeeping, fmt.Errorf("enqueue transaction %s: %w", tx.ID, err))
	}
	if err := e.persistReceipt(ctx, tx, now); err != nil {
		bookkeeping = append(bookkeeping, err)
	}
	if e.sales != nil {
		if err := e.sales.RecordTransaction(ctx, tx.TotalCents); err != nil {
			bookkeeping = append(bookkeeping, fmt.Errorf("record sale on shift: %w", err))
		}
	}

	e.bus.Publish(events.TransactionCompleted, tx.ID)
	return tx, errors.Join(bookkeeping...)
}

// SuspendTransaction parks the in-progress transaction for later resume.
func (e *Engine) SuspendTransaction(ctx context.Context) (*domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil, ErrNoActiveTransaction
	}

	now := time.Now().UTC()
	tx := cloneTransaction(e.current)
	tx.Status = domain.TxStatusSuspended
	tx.SuspendedAt = &now

	if err := e.store.Update(ctx, localstore.CollTransactions, tx); err != nil {
		return nil, err
	}
	e.current = nil

	if _, err := e.queue.Enqueue(ctx, "transaction", tx.ID, domain.QueueOpUpdate, tx, syncqueue.PriorityTransaction); err != nil {
		e.log.WithError(err).WithField("transaction_id", tx.ID).Warn("failed to queue suspended transaction")
	}
	e.bus.Publish(events.TransactionSuspended, tx.ID)
	return tx, nil
}

// ResumeTransaction reloads a suspended transaction as the current one.
func (e *Engine) ResumeTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		return nil, &TransactionConflictError{ExistingID: e.current.ID}
	}

	tx, err := localstore.Get[domain.Transaction](ctx, e.store, localstore.CollTransactions, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.TxStatusSuspended {
		return nil, fmt.Errorf("transaction %s is %s, not suspended", tx.ID, tx.Status)
	}

	tx.Status = domain.TxStatusInProgress
	tx.SuspendedAt = nil
	if err := e.store.Update(ctx, localstore.CollTransactions, tx); err != nil {
		return nil, err
	}
	e.current = tx
	e.bus.Publish(events.TransactionResumed, tx.ID)
	return cloneTransaction(tx), nil
}

// ListSuspendedTransactions returns parked transactions, oldest first.
func (e *Engine) ListSuspendedTransactions(ctx context.Context) ([]domain.Transaction, error) {
	txs, err := localstore.GetAllByIndex[domain.Transaction](
		ctx, e.store, localstore.CollTransactions, "status", domain.TxStatusSuspended)
	if err != nil {
		return nil, err
	}
	sort.Slice(txs, func(i, j int) bool {
		si, sj := txs[i].SuspendedAt, txs[j].SuspendedAt
		if si == nil || sj == nil || si.Equal(*sj) {
			return txs[i].ID < txs[j].ID
		}
		return si.Before(*sj)
	})
	return txs, nil
}

// GetCurrentTransaction returns a copy of the in-progress transaction, or
// nil when none is active.
func (e *Engine) GetCurrentTransaction() *domain.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	return cloneTransaction(e.current)
}

// GetCurrentCart returns a copy of the in-progress cart lines.
func (e *Engine) GetCurrentCart() []domain.CartItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	return append([]domain.CartItem(nil), e.current.Items...)
}

// GetProductByBarcode looks a product up by its unique barcode, reading
// through the product cache.
func (e *Engine) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, localstore.ErrNotFound
	}

	if p, ok, err := e.products.Get(ctx, barcode); err != nil {
		e.log.WithError(err).Warn("product cache read failed")
	} else if ok {
		return p, nil
	}

	p, err := localstore.GetByIndex[domain.Product](ctx, e.store, localstore.CollProducts, "barcode", barcode)
	if err != nil {
		return nil, err
	}
	if err := e.products.Set(ctx, barcode, p, e.cacheTTL); err != nil {
		e.log.WithError(err).Warn("product cache write failed")
	}
	return p, nil
}

// SearchProducts matches active products by name, category, or barcode,
// case-insensitively.
func (e *Engine) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	products, err := localstore.GetAll(ctx, e.store, localstore.CollProducts, func(p domain.Product) bool {
		if !p.Active {
			return false
		}
		if q == "" {
			return true
		}
		return strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Category), q) ||
			strings.Contains(strings.ToLower(p.Barcode), q)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

// GetCustomerByPhone looks a customer up by their unique phone number.
func (e *Engine) GetCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, localstore.ErrNotFound
	}
	return localstore.GetByIndex[domain.Customer](ctx, e.store, localstore.CollCustomers, "phone", phone)
}

// GetTransactionStats summarises today's completed transactions.
func (e *Engine) GetTransactionStats(ctx context.Context) (domain.TransactionStats, error) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	txs, err := localstore.GetAllByIndex[domain.Transaction](
		ctx, e.store, localstore.CollTransactions, "status", domain.TxStatusCompleted)
	if err != nil {
		return domain.TransactionStats{}, err
	}

	var stats domain.TransactionStats
	for _, tx := range txs {
		if tx.CompletedAt == nil || tx.CompletedAt.Before(dayStart) {
			continue
		}
		stats.Count++
		stats.GrossCents += tx.TotalCents
		stats.TaxCents += tx.TaxCents
	}
	if stats.Count > 0 {
		stats.AverageTicketCents = stats.GrossCents / int64(stats.Count)
	}
	return stats, nil
}

// commit recalculates the candidate transaction, persists it, and only then
// swaps it in as the current one. A failed persist leaves the previous state
// visible.
func (e *Engine) commit(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	recalculate(tx)
	if err := e.store.Update(ctx, localstore.CollTransactions, tx); err != nil {
		return nil, err
	}
	e.current = tx
	return cloneTransaction(tx), nil
}

// recalculate is the single source of truth for line and transaction totals.
func recalculate(tx *domain.Transaction) {
	var subtotal, tax int64
	for i := range tx.Items {
		item := &tx.Items[i]
		item.TotalCents = item.PriceCents * int64(item.Quantity)
		subtotal += item.TotalCents
		tax += int64(math.Round(float64(item.TotalCents) * item.TaxRatePercent / 100))
	}
	tx.SubtotalCents = subtotal
	tx.TaxCents = tax
	tx.TotalCents = subtotal + tax - tx.DiscountCents

	var paid int64
	for _, p := range tx.Payments {
		paid += p.AmountCents
	}
	tx.TotalPaidCents = paid
	tx.ChangeCents = paid - tx.TotalCents
}

// decrementInventory applies the completed sale to local stock, continuing
// past per-product failures and reporting them together. A product with no
// inventory record gets one created, possibly negative.
func (e *Engine) decrementInventory(ctx context.Context, tx *domain.Transaction) error {
	var errs []error
	for _, item := range tx.Items {
		rec, err := localstore.GetByIndex[domain.InventoryRecord](
			ctx, e.store, localstore.CollInventory, "product_id", item.ProductID)
		switch {
		case errors.Is(err, localstore.ErrNotFound):
			fresh := domain.InventoryRecord{
				ID:           xid.New("inv"),
				ProductID:    item.ProductID,
				CurrentStock: -item.Quantity,
				LastUpdated:  time.Now().UTC(),
			}
			if _, err := e.store.Add(ctx, localstore.CollInventory, fresh); err != nil {
				errs = append(errs, fmt.Errorf("create inventory for %s: %w", item.ProductID, err))
			}
		case err != nil:
			errs = append(errs, fmt.Errorf("load inventory for %s: %w", item.ProductID, err))
		default:
			rec.CurrentStock -= item.Quantity
			rec.LastUpdated = time.Now().UTC()
			if err := e.store.Update(ctx, localstore.CollInventory, rec); err != nil {
				errs = append(errs, fmt.Errorf("update inventory for %s: %w", item.ProductID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func removeItem(items []domain.CartItem, productID string) []domain.CartItem {
	out := items[:0]
	for _, item := range items {
		if item.ProductID != productID {
			out = append(out, item)
		}
	}
	return out
}

func cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	out := *tx
	out.Items = append([]domain.CartItem(nil), tx.Items...)
	out.Payments = append([]domain.Payment(nil), tx.Payments...)
	if tx.SuspendedAt != nil {
		t := *tx.SuspendedAt
		out.SuspendedAt = &t
	}
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
