package payments

import (
	"fmt"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"ms-events/internal/logger"
)

// Init initializes the Stripe API with the secret key
func Init(secretKey string) {
	stripe.Key = secretKey
}

// Use a map to store locks for payment intents - thread safe
var paymentIntentLocks = make(map[string]bool)
var paymentIntentMutex = &sync.Mutex{}

// Service creates payment intents for ticket purchases. Prices are
// sliding scale, so the amount comes from the attendance record rather
// than a fixed ticket price.
type Service struct {
	Logger *logger.Logger
}

func NewService(log *logger.Logger) *Service {
	return &Service{Logger: log}
}

// CreatePaymentIntent creates a Stripe payment intent for one
// attendance record and returns its ID.
func (s *Service) CreatePaymentIntent(recordID string, amount float64) (string, error) {
	s.Logger.Info("PAYMENT", fmt.Sprintf("Creating payment intent for record: %s", recordID))

	// Use mutex to lock this record ID to prevent race conditions
	paymentIntentMutex.Lock()
	if _, locked := paymentIntentLocks[recordID]; locked {
		paymentIntentMutex.Unlock()
		s.Logger.Warn("PAYMENT", fmt.Sprintf("Payment intent creation for record %s is already in progress", recordID))
		time.Sleep(500 * time.Millisecond)
		return s.CreatePaymentIntent(recordID, amount)
	}

	paymentIntentLocks[recordID] = true
	paymentIntentMutex.Unlock()

	defer func() {
		paymentIntentMutex.Lock()
		delete(paymentIntentLocks, recordID)
		paymentIntentMutex.Unlock()
	}()

	amountInCents := int64(amount * 100)

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountInCents),
		Currency: stripe.String("usd"),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("record_id", recordID)

	intent, err := paymentintent.New(params)
	if err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to create Stripe payment intent: %v", err))
		return "", err
	}

	s.Logger.Info("PAYMENT", fmt.Sprintf("Created payment intent %s for record %s (USD %0.2f)", intent.ID, recordID, amount))
	return intent.ID, nil
}
