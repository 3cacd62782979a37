// Package payments places and resolves a fare hold at ride
// acceptance/completion. It is explicitly not a pricing engine: the
// fare amount is an opaque scalar the ride already carries, and this
// package only wraps Stripe's manual-capture PaymentIntent
// hold/capture/cancel flow around it.
package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// FareHolder is the narrow surface the acceptance arbiter and session
// router need: place a hold at award, resolve it at the ride's terminal
// status.
type FareHolder interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Stripe is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
type Stripe struct{}

// NewStripe initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripe() *Stripe {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &Stripe{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *Stripe) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *Stripe) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *Stripe) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}

// Noop is the FareHolder used when STRIPE_API_KEY is unset: fare capture
// is then simply not attempted, never blocking matching.
type Noop struct{}

func (Noop) Hold(context.Context, int64, string, string) (string, error) { return "", nil }
func (Noop) Capture(context.Context, string) error                       { return nil }
func (Noop) Cancel(context.Context, string) error                        { return nil }
