package orders

import (
	"context"
	"time"
)

const (
	PaymentPending    = "pending"
	PaymentPaid       = "paid"
	PaymentFailed     = "failed"
	PaymentRefunded   = "refunded"
	PaymentChargeback = "chargeback"

	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusDisputed  = "disputed"
)

type Order struct {
	ID                   string     `json:"id"`
	OrderNumber          string     `json:"order_number"`
	CustomerID           *string    `json:"customer_id,omitempty"`
	CustomerName         string     `json:"customer_name"`
	CustomerEmail        string     `json:"customer_email"`
	PackageName          string     `json:"package_name"`
	PaymentReference     *string    `json:"payment_reference,omitempty"`
	PaymentStatus        string     `json:"payment_status"`
	Status               string     `json:"status"`
	PaymentAmount        *float64   `json:"payment_amount,omitempty"`
	PaymentDate          *time.Time `json:"payment_date,omitempty"`
	PaymentError         *string    `json:"payment_error,omitempty"`
	NetcashTransactionID *string    `json:"netcash_transaction_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// PaymentUpdate is applied as a whole; nil pointers clear nothing and keep
// the stored value.
type PaymentUpdate struct {
	PaymentStatus string
	Status        string
	Amount        *float64
	PaidAt        *time.Time
	Error         *string
	TransactionID *string
}

type Store interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByPaymentReference(ctx context.Context, ref string) (*Order, error)
	UpdatePayment(ctx context.Context, id string, u PaymentUpdate) error
}
