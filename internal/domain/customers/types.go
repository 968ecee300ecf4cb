package customers

import (
	"context"
	"strings"
	"time"
)

type Customer struct {
	ID                    string    `json:"id"`
	AccountNumber         *string   `json:"account_number,omitempty"`
	FirstName             string    `json:"first_name"`
	LastName              string    `json:"last_name"`
	Email                 string    `json:"email"`
	Phone                 *string   `json:"phone,omitempty"`
	ExpoPushToken         *string   `json:"-"`
	ZohoBillingCustomerID *string   `json:"zoho_billing_customer_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

func (c *Customer) PhoneNumber() string {
	if c.Phone == nil {
		return ""
	}
	return *c.Phone
}

func (c *Customer) ZohoID() string {
	if c.ZohoBillingCustomerID == nil {
		return ""
	}
	return *c.ZohoBillingCustomerID
}

type Store interface {
	GetByID(ctx context.Context, id string) (*Customer, error)
	SetZohoCustomerID(ctx context.Context, id, zohoID string) error
}
