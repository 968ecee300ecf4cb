package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

type Status string

const (
	StatusApproved   Status = "Approved"
	StatusDeclined   Status = "Declined"
	StatusCancelled  Status = "Cancelled"
	StatusPending    Status = "Pending"
	StatusFailed     Status = "Failed"
	StatusRefunded   Status = "Refunded"
	StatusChargeback Status = "Chargeback"
)

var validStatuses = map[Status]bool{
	StatusApproved: true, StatusDeclined: true, StatusCancelled: true, StatusPending: true,
	StatusFailed: true, StatusRefunded: true, StatusChargeback: true,
}

type WebhookType string

const (
	WebhookPaymentSuccess WebhookType = "payment_success"
	WebhookPaymentFailure WebhookType = "payment_failure"
	WebhookPaymentPending WebhookType = "payment_pending"
	WebhookRefund         WebhookType = "refund"
	WebhookChargeback     WebhookType = "chargeback"
	WebhookNotify         WebhookType = "notify"
)

// Payload is a Netcash payment notification. Amount is in cents.
type Payload struct {
	Reference     string `json:"Reference"`
	TransactionID string `json:"TransactionID,omitempty"`
	Status        Status `json:"Status"`
	Amount        string `json:"Amount"`
	StatusText    string `json:"StatusText,omitempty"`
	ResponseText  string `json:"ResponseText,omitempty"`
	CardNumber    string `json:"CardNumber,omitempty"`
	Extra1        string `json:"Extra1,omitempty"`
	Extra2        string `json:"Extra2,omitempty"`
	Extra3        string `json:"Extra3,omitempty"`
	PaymentMethod string `json:"PaymentMethod,omitempty"`
}

var (
	ErrInvalidJSON   = errors.New("Invalid JSON payload")
	ErrInvalidAmount = errors.New("Invalid amount format")
)

// ParsePayload decodes a JSON or form-encoded notification and checks the
// required fields.
func ParsePayload(raw []byte, contentType string) (*Payload, error) {
	var p Payload
	if isForm(contentType) {
		vals, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, ErrInvalidJSON
		}
		p = payloadFromValues(vals)
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrInvalidJSON
	}

	switch {
	case p.Reference == "":
		return nil, errors.New("Missing required field: Reference")
	case p.Status == "":
		return nil, errors.New("Missing required field: Status")
	case p.Amount == "":
		return nil, errors.New("Missing required field: Amount")
	}

	cents, err := strconv.ParseInt(p.Amount, 10, 64)
	if err != nil || cents < 0 {
		return nil, ErrInvalidAmount
	}

	if !validStatuses[p.Status] {
		return nil, fmt.Errorf("Invalid status: %s", p.Status)
	}
	return &p, nil
}

func isForm(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/x-www-form-urlencoded"
}

func payloadFromValues(v url.Values) Payload {
	return Payload{
		Reference:     v.Get("Reference"),
		TransactionID: v.Get("TransactionID"),
		Status:        Status(v.Get("Status")),
		Amount:        v.Get("Amount"),
		StatusText:    v.Get("StatusText"),
		ResponseText:  v.Get("ResponseText"),
		CardNumber:    v.Get("CardNumber"),
		Extra1:        v.Get("Extra1"),
		Extra2:        v.Get("Extra2"),
		Extra3:        v.Get("Extra3"),
		PaymentMethod: v.Get("PaymentMethod"),
	}
}

// AmountRands converts the cent amount; an unparsable amount yields 0.
func (p *Payload) AmountRands() float64 {
	cents, err := strconv.ParseInt(p.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return float64(cents) / 100
}

// FailureReason is the most specific gateway message available.
func (p *Payload) FailureReason() string {
	switch {
	case p.StatusText != "":
		return p.StatusText
	case p.ResponseText != "":
		return p.ResponseText
	default:
		return "Payment failed"
	}
}

// MapStatus maps a Netcash status onto the local transaction status.
func MapStatus(s Status) string {
	switch s {
	case StatusApproved:
		return "completed"
	case StatusDeclined, StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusPending:
		return "pending"
	case StatusRefunded:
		return "refunded"
	case StatusChargeback:
		return "chargeback"
	default:
		return "unknown"
	}
}

func DetermineWebhookType(p *Payload) WebhookType {
	switch p.Status {
	case StatusApproved:
		return WebhookPaymentSuccess
	case StatusDeclined, StatusFailed, StatusCancelled:
		return WebhookPaymentFailure
	case StatusPending:
		return WebhookPaymentPending
	case StatusRefunded:
		return WebhookRefund
	case StatusChargeback:
		return WebhookChargeback
	default:
		return WebhookNotify
	}
}

// IdempotencyKey identifies a notification by content, so redeliveries
// without a TransactionID still collapse onto one key.
func IdempotencyKey(p *Payload) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		p.Reference, p.TransactionID, string(p.Status), p.Amount,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// HashBody keys deliveries whose payload could not be parsed.
func HashBody(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

var uuidPattern = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// ExtractOrderID returns the first UUID embedded in a payment reference.
func ExtractOrderID(reference string) (string, bool) {
	m := uuidPattern.FindString(reference)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

// SanitizeForLogging returns a copy with the card number masked.
func SanitizeForLogging(p Payload) Payload {
	if n := len(p.CardNumber); n > 0 {
		if n > 4 {
			p.CardNumber = strings.Repeat("*", n-4) + p.CardNumber[n-4:]
		} else {
			p.CardNumber = strings.Repeat("*", n)
		}
	}
	return p
}
