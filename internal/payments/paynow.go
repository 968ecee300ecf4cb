package payments

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/speps/go-hashids/v2"
)

const PayNowURL = "https://paynow.netcash.co.za/site/paynow.aspx"

// ReferenceGenerator issues short PayNow references from (unix time,
// sequence). Salted hashids keep them unguessable and collision free for a
// single process.
type ReferenceGenerator struct {
	h   *hashids.HashID
	seq atomic.Int64
	now func() time.Time
}

func NewReferenceGenerator(salt string) (*ReferenceGenerator, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = 8
	hd.Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("init reference generator: %w", err)
	}
	return &ReferenceGenerator{h: h, now: time.Now}, nil
}

func (g *ReferenceGenerator) Next() (string, error) {
	id, err := g.h.EncodeInt64([]int64{g.now().Unix(), g.seq.Add(1)})
	if err != nil {
		return "", fmt.Errorf("encode reference: %w", err)
	}
	return "PN-" + id, nil
}

// NetcashAdapter implements PaymentGateway for Netcash PayNow.
type NetcashAdapter struct {
	ServiceKey string
	VaultKey   string
	ReturnURL  string
	CancelURL  string
	refs       *ReferenceGenerator
}

func NewNetcashAdapter(serviceKey, vaultKey, returnURL, cancelURL string, refs *ReferenceGenerator) *NetcashAdapter {
	return &NetcashAdapter{
		ServiceKey: serviceKey,
		VaultKey:   vaultKey,
		ReturnURL:  returnURL,
		CancelURL:  cancelURL,
		refs:       refs,
	}
}

func (n *NetcashAdapter) InitiatePayment(ctx context.Context, req PaymentRequest) (PaymentResponse, error) {
	if req.Amount <= 0 {
		return PaymentResponse{}, fmt.Errorf("invalid payment amount %.2f", req.Amount)
	}

	ref := req.Reference
	if ref == "" {
		var err error
		if ref, err = n.refs.Next(); err != nil {
			return PaymentResponse{}, err
		}
	}

	description := req.Description
	if description == "" {
		description = "Payment"
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = n.ReturnURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = n.CancelURL
	}

	cents := int64(math.Round(req.Amount * 100))
	fields := map[string]string{
		"m1":     n.ServiceKey,
		"m2":     n.VaultKey,
		"p2":     ref,
		"p3":     description,
		"p4":     strconv.FormatInt(cents, 10),
		"Budget": "N",
		"m4":     ref,
		"m9":     returnURL,
		"m10":    cancelURL,
	}
	if req.CustomerEmail != "" {
		fields["CustomerEmailAddress"] = req.CustomerEmail
	}
	if req.CustomerPhone != "" {
		fields["CustomerTelephoneNumber"] = req.CustomerPhone
	}

	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}

	return PaymentResponse{
		PaymentURL: PayNowURL + "?" + q.Encode(),
		Reference:  ref,
		Data:       fields,
	}, nil
}

// VerifyPayment interprets a captured notification. The signature has
// already been checked by ValidateRequest.
func (n *NetcashAdapter) VerifyPayment(ctx context.Context, req PaymentVerifyRequest) (PaymentVerifyResponse, error) {
	vals := url.Values{}
	for k, v := range req.Data {
		vals.Set(k, v)
	}
	p := payloadFromValues(vals)
	if p.Reference == "" {
		p.Reference = req.Data["m4"]
	}
	if req.Reference != "" && p.Reference != req.Reference {
		return PaymentVerifyResponse{}, fmt.Errorf("reference mismatch: got %q want %q", p.Reference, req.Reference)
	}
	if !validStatuses[p.Status] {
		return PaymentVerifyResponse{}, fmt.Errorf("Invalid status: %s", p.Status)
	}

	return PaymentVerifyResponse{
		Success:     p.Status == StatusApproved,
		State:       MapStatus(p.Status),
		Terminal:    p.Status != StatusPending,
		ProviderRef: p.TransactionID,
	}, nil
}
