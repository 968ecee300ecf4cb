package services

import (
	"context"
	"time"

	"linkwave/internal/domain/customers"
)

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusCancelled = "cancelled"
)

// Service is a customer's subscribed package, billed monthly on BillingDay.
type Service struct {
	ID              string              `json:"id"`
	CustomerID      string              `json:"customer_id"`
	PackageName     string              `json:"package_name"`
	ServiceType     string              `json:"service_type"`
	MonthlyPrice    float64             `json:"monthly_price"`
	BillingDay      int                 `json:"billing_day"`
	LastInvoiceDate *time.Time          `json:"last_invoice_date,omitempty"`
	Status          string              `json:"status"`
	Customer        *customers.Customer `json:"customer,omitempty"`
}

type Store interface {
	// ListDueForBilling returns active services billed on day. An empty
	// customerID means every customer.
	ListDueForBilling(ctx context.Context, day int, customerID string) ([]*Service, error)
	SetLastInvoiceDate(ctx context.Context, id string, date time.Time) error
}
