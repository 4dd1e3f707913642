package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// InvoiceResponse - метаданные счёта. PDF отдаёт хранилище документов по download_url.
type InvoiceResponse struct {
	InvoiceNumber string          `json:"invoice_number"`
	FileName      string          `json:"file_name"`
	OrderID       int64           `json:"order_id"`
	Total         decimal.Decimal `json:"total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Currency      string          `json:"currency"`
	GeneratedAt   time.Time       `json:"generated_at"`
	DownloadURL   string          `json:"download_url,omitempty"`
}

func invoiceResponse(inv *domain.Invoice, documentsURL string) InvoiceResponse {
	res := InvoiceResponse{
		InvoiceNumber: inv.Number,
		FileName:      inv.FileName,
		OrderID:       inv.OrderID,
		Total:         inv.Total,
		AmountPaid:    inv.AmountPaid,
		Currency:      inv.Currency,
		GeneratedAt:   inv.GeneratedAt,
	}
	if documentsURL != "" && inv.FileName != "" {
		res.DownloadURL = strings.TrimRight(documentsURL, "/") + "/" + inv.FileName
	}
	return res
}
