package payments

import (
	"context"
	"errors"
	"fmt"
)

var ErrGatewayNotRegistered = errors.New("gateway not registered")

type PaymentManager struct {
	gateways map[string]PaymentGateway
}

func NewPaymentManager() *PaymentManager {
	return &PaymentManager{gateways: make(map[string]PaymentGateway)}
}

func (m *PaymentManager) RegisterGateway(name string, gateway PaymentGateway) {
	m.gateways[name] = gateway
}

func (m *PaymentManager) gateway(provider string) (PaymentGateway, error) {
	g, ok := m.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotRegistered, provider)
	}
	return g, nil
}

func (m *PaymentManager) InitiatePayment(ctx context.Context, provider string, req PaymentRequest) (PaymentResponse, error) {
	g, err := m.gateway(provider)
	if err != nil {
		return PaymentResponse{}, err
	}
	return g.InitiatePayment(ctx, req)
}

func (m *PaymentManager) VerifyPayment(ctx context.Context, provider string, req PaymentVerifyRequest) (PaymentVerifyResponse, error) {
	g, err := m.gateway(provider)
	if err != nil {
		return PaymentVerifyResponse{}, err
	}
	return g.VerifyPayment(ctx, req)
}
