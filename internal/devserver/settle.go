package devserver

import (
	"log/slog"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/driver-agent/internal/models"
)

// settlement places a hold on the ride fare when a driver is assigned and
// captures it on completion. Without an API key every call is a no-op so
// local runs need no Stripe account.
type settlement struct {
	enabled bool
	log     *slog.Logger
}

func newSettlement(apiKey string, log *slog.Logger) *settlement {
	if apiKey == "" {
		return &settlement{log: log}
	}
	stripe.Key = apiKey
	return &settlement{enabled: true, log: log}
}

// Hold authorizes the fare without capturing it. Returns the payment intent
// id used later by Capture or Cancel.
func (s *settlement) Hold(o models.Order) (string, error) {
	if !s.enabled {
		return "", nil
	}
	pi, err := paymentintent.New(&stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(o.Price * 100)),
		Currency:      stripe.String(string(stripe.CurrencyRUB)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String("ride fare hold"),
	})
	if err != nil {
		return "", err
	}
	s.log.Info("fare hold placed", "order_id", o.ID, "payment_ref", pi.ID)
	return pi.ID, nil
}

func (s *settlement) Capture(ref string) error {
	if !s.enabled || ref == "" {
		return nil
	}
	_, err := paymentintent.Capture(ref, nil)
	return err
}

func (s *settlement) Cancel(ref string) error {
	if !s.enabled || ref == "" {
		return nil
	}
	_, err := paymentintent.Cancel(ref, nil)
	return err
}
