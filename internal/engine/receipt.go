package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"salepoint/terminal/internal/domain"
	"salepoint/terminal/internal/localstore"
	"salepoint/terminal/internal/xid"
)

// RenderedReceipt is a receipt prepared for a thermal printer: raw ESC/POS
// bytes plus a plain-text preview.
type RenderedReceipt struct {
	TransactionID string
	Escpos        []byte
	PreviewText   string
	FileName      string
}

// persistReceipt writes the structured receipt for a completed transaction.
func (e *Engine) persistReceipt(ctx context.Context, tx *domain.Transaction, at time.Time) error {
	lines := make([]domain.ReceiptLine, 0, len(tx.Items))
	for _, item := range tx.Items {
		lines = append(lines, domain.ReceiptLine{
			Name:       item.Name,
			Quantity:   item.Quantity,
			PriceCents: item.PriceCents,
			TotalCents: item.TotalCents,
		})
	}
	payments := make([]domain.ReceiptPayment, 0, len(tx.Payments))
	for _, p := range tx.Payments {
		payments = append(payments, domain.ReceiptPayment{
			Method:      p.Method,
			AmountCents: p.AmountCents,
		})
	}

	receipt := domain.Receipt{
		ID:            xid.New("receipt"),
		TransactionID: tx.ID,
		CreatedAt:     at,
		Content: domain.ReceiptContent{
			Header: []string{"SalePoint Terminal", "TX: " + tx.ID},
			Items:  lines,
			Totals: domain.ReceiptTotals{
				SubtotalCents: tx.SubtotalCents,
				TaxCents:      tx.TaxCents,
				DiscountCents: tx.DiscountCents,
				TotalCents:    tx.TotalCents,
				PaidCents:     tx.TotalPaidCents,
				ChangeCents:   tx.ChangeCents,
			},
			Payments: payments,
			Footer:   []string{"Thank you"},
		},
		Status:      domain.ReceiptStatusGenerated,
		PrintStatus: domain.DeliveryStatusPending,
		EmailStatus: domain.DeliveryStatusPending,
	}
	if _, err := e.store.Add(ctx, localstore.CollReceipts, receipt); err != nil {
		return fmt.Errorf("persist receipt for %s: %w", tx.ID, err)
	}
	return nil
}

// RenderReceipt renders the stored receipt of a completed transaction as
// ESC/POS bytes for a thermal printer, with a text preview.
func (e *Engine) RenderReceipt(ctx context.Context, transactionID string) (*RenderedReceipt, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, localstore.ErrNotFound
	}
	receipt, err := localstore.GetByIndex[domain.Receipt](
		ctx, e.store, localstore.CollReceipts, "transaction_id", transactionID)
	if err != nil {
		return nil, err
	}

	lines := append([]string{}, receipt.Content.Header...)
	lines = append(lines,
		"Date: "+receipt.CreatedAt.Format("2006-01-02 15:04:05"),
		"------------------------",
	)
	for _, item := range receipt.Content.Items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
		lines = append(lines, fmt.Sprintf("  %s", formatCents(item.TotalCents)))
	}
	t := receipt.Content.Totals
	lines = append(lines,
		"------------------------",
		"Subtotal : "+formatCents(t.SubtotalCents),
		"Discount : "+formatCents(t.DiscountCents),
		"Tax      : "+formatCents(t.TaxCents),
		"Total    : "+formatCents(t.TotalCents),
	)
	for _, p := range receipt.Content.Payments {
		lines = append(lines, fmt.Sprintf("%-9s: %s", p.Method, formatCents(p.AmountCents)))
	}
	lines = append(lines,
		"Change   : "+formatCents(t.ChangeCents),
		"========================",
	)
	lines = append(lines, receipt.Content.Footer...)
	lines = append(lines, "")

	// ESC @ initializes the printer; GS V A 0x10 feeds and cuts.
	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return &RenderedReceipt{
		TransactionID: transactionID,
		Escpos:        escpos,
		PreviewText:   strings.Join(lines, "\n"),
		FileName:      fmt.Sprintf("receipt-%s.bin", transactionID),
	}, nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
