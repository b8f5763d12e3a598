// Package costshare places refundable fuel cost-sharing holds for families
// joining a group.
package costshare

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Client is a thin wrapper around stripe-go for PaymentIntent
// hold/capture/cancel flows.
type Client struct{}

// NewClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewClient() *Client {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &Client{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold the
// cost-share deposit. It returns the PaymentIntent ID on success.
func (c *Client) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
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

// Capture finalizes a previously-held deposit, e.g. at the end of a term.
func (c *Client) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold, e.g. when a family leaves before the term starts.
func (c *Client) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
