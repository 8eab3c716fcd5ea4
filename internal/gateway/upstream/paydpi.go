package upstream

import (
	"context"
	"encoding/json"
	"net/http"
)

const DefaultCurrency = "LKR"

// PaymentRequest starts a payment attached to a workflow process.
type PaymentRequest struct {
	ProcessID   string  `json:"processId"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
}

// PayDPI is the payment processor.
type PayDPI struct {
	client *Client
}

func NewPayDPI(cfg Config, opts ...Option) (*PayDPI, error) {
	c, err := newClient("paydpi", cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &PayDPI{client: c}, nil
}

func (p *PayDPI) CreatePayment(ctx context.Context, req PaymentRequest) (json.RawMessage, error) {
	if req.Currency == "" {
		req.Currency = DefaultCurrency
	}
	if req.Description == "" {
		req.Description = "GovSign Payment"
	}
	return p.client.do(ctx, http.MethodPost, "/payments", req, "Failed to initiate payment with PayDPI")
}

func (p *PayDPI) GetPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return p.client.do(ctx, http.MethodGet, "/payments/"+escape(paymentID), nil, "Failed to fetch payment from PayDPI")
}
