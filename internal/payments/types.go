package payments

type PaymentRequest struct {
	Reference     string // generated when empty
	Amount        float64
	Description   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ReturnURL     string
	CancelURL     string
}

type PaymentResponse struct {
	PaymentURL string
	Reference  string
	Data       map[string]string // form fields posted to the gateway
}

type PaymentVerifyRequest struct {
	Reference string
	Data      map[string]string
}

type PaymentVerifyResponse struct {
	Success     bool
	State       string // local transaction status
	Terminal    bool
	ProviderRef string
}
