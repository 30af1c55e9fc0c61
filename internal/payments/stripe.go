// Package payments wraps Stripe Checkout and webhook verification.
package payments

import (
	"fmt"
	"math"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"resumatch/internal/config"
	"resumatch/internal/database"
)

// EventCheckoutCompleted is the only event type that flips payment state.
const EventCheckoutCompleted = "checkout.session.completed"

// Service creates checkout sessions for single resume analyses.
type Service struct {
	cfg config.StripeConfig
}

// NewService configures the Stripe client key and returns the service.
func NewService(cfg config.StripeConfig) *Service {
	stripe.Key = cfg.SecretKey
	return &Service{cfg: cfg}
}

// CreateCheckoutSession builds a hosted checkout session for one analysis of
// the given resume and returns its URL. The resume ID rides in the session
// metadata so the webhook can reconcile the payment later.
func (s *Service) CreateCheckoutSession(resume *database.Resume, successURL, cancelURL string) (string, error) {
	priceCents := int64(math.Round(s.cfg.PriceUSD * 100))

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(successURL),
		CancelURL:          stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(s.cfg.Currency),
					UnitAmount: stripe.Int64(priceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String("Resume Analysis"),
						Description: stripe.String(fmt.Sprintf("AI-powered analysis: %s", resume.OriginalFilename)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("resume_id", fmt.Sprintf("%d", resume.ID))

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// VerifyEvent authenticates a webhook payload against the shared signing
// secret before anything is parsed out of it.
func VerifyEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, secret)
}
