package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	DefaultRazorpayURL = "https://api.razorpay.com/v1"
	DefaultStripeURL   = "https://api.stripe.com/v1"

	razorpayCaptured = "captured"
	stripeSucceeded  = "succeeded"
)

var ErrUnknownPayment = errors.New("payment not found at gateway")

// minorUnits converts an amount to the gateway's smallest currency unit.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Accept", "application/json")
}

type RazorpayVerifier struct {
	client *resty.Client
}

func NewRazorpayVerifier(baseURL, keyID, keySecret string, timeout time.Duration) *RazorpayVerifier {
	if baseURL == "" {
		baseURL = DefaultRazorpayURL
	}
	return &RazorpayVerifier{client: newClient(baseURL, timeout).SetBasicAuth(keyID, keySecret)}
}

type razorpayPayment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// Captured reports true only for a captured payment of the order's amount.
func (v *RazorpayVerifier) Captured(ctx context.Context, paymentID string, order storage.PaymentOrder) (bool, error) {
	var payment razorpayPayment
	resp, err := v.client.R().
		SetContext(ctx).
		SetPathParam("id", paymentID).
		SetResult(&payment).
		Get("/payments/{id}")
	if err != nil {
		return false, fmt.Errorf("razorpay request: %w", err)
	}
	if err := checkStatus("razorpay", resp); err != nil {
		return false, err
	}
	return payment.Status == razorpayCaptured && payment.Amount == minorUnits(order.Amount), nil
}

type StripeVerifier struct {
	client *resty.Client
}

func NewStripeVerifier(baseURL, secretKey string, timeout time.Duration) *StripeVerifier {
	if baseURL == "" {
		baseURL = DefaultStripeURL
	}
	return &StripeVerifier{client: newClient(baseURL, timeout).SetAuthToken(secretKey)}
}

type stripePaymentIntent struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	AmountReceived int64             `json:"amount_received"`
	Metadata       map[string]string `json:"metadata"`
}

// Captured reports true for a succeeded intent that received the order's
// amount. When the intent carries an order_id in its metadata it must match.
func (v *StripeVerifier) Captured(ctx context.Context, paymentIntentID string, order storage.PaymentOrder) (bool, error) {
	var intent stripePaymentIntent
	resp, err := v.client.R().
		SetContext(ctx).
		SetPathParam("id", paymentIntentID).
		SetResult(&intent).
		Get("/payment_intents/{id}")
	if err != nil {
		return false, fmt.Errorf("stripe request: %w", err)
	}
	if err := checkStatus("stripe", resp); err != nil {
		return false, err
	}
	if ref, ok := intent.Metadata["order_id"]; ok && ref != order.ID.String() {
		return false, nil
	}
	return intent.Status == stripeSucceeded && intent.AmountReceived == minorUnits(order.Amount), nil
}

func checkStatus(name string, resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%s: %w", name, ErrUnknownPayment)
	case resp.IsError():
		return fmt.Errorf("%s: unexpected status %d", name, resp.StatusCode())
	}
	return nil
}
