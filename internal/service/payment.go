package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"

	"pictora/internal/domain"
	"pictora/internal/infra"
	"pictora/internal/providers/razorpay"
)

// PlanPrices is the plan price in whole rupees.
var PlanPrices = map[domain.PlanType]int64{
	domain.PlanBasic:   100,
	domain.PlanPremium: 500,
}

// CreditsPerPlan is the credit grant a settled plan purchase yields.
var CreditsPerPlan = map[domain.PlanType]int64{
	domain.PlanBasic:   500,
	domain.PlanPremium: 1000,
}

// OrderProvider is the Razorpay surface the payment service uses.
type OrderProvider interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*razorpay.Order, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	KeyID() string
}

// PaymentService settles plan purchases. Verification alone never grants
// credits; the grant is gated on flipping the pending transaction row, so
// replayed verifications and webhooks settle at most once.
type PaymentService struct {
	payments domain.PaymentRepository
	credits  domain.CreditRepository
	orders   OrderProvider
	logger   infra.Logger

	stripeSecretKey     string
	stripeWebhookSecret string
	frontendURL         string
}

// NewPaymentService wires a payment verifier.
func NewPaymentService(payments domain.PaymentRepository, credits domain.CreditRepository, orders OrderProvider, stripeSecretKey, stripeWebhookSecret, frontendURL string, logger infra.Logger) *PaymentService {
	return &PaymentService{
		payments:            payments,
		credits:             credits,
		orders:              orders,
		logger:              logger,
		stripeSecretKey:     stripeSecretKey,
		stripeWebhookSecret: stripeWebhookSecret,
		frontendURL:         frontendURL,
	}
}

// CheckoutPayload carries everything the frontend needs to open Razorpay
// checkout for an order.
type CheckoutPayload struct {
	Key         string            `json:"key"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	OrderID     string            `json:"order_id"`
	Notes       map[string]string `json:"notes"`
	Prefill     CheckoutPrefill   `json:"prefill"`
	Theme       CheckoutTheme     `json:"theme"`
}

// CheckoutPrefill pre-populates customer fields in the checkout widget. The
// account service owns profile data, so the fields ship empty and the widget
// asks the customer.
type CheckoutPrefill struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

// CheckoutTheme styles the checkout widget.
type CheckoutTheme struct {
	Color string `json:"color"`
}

const checkoutThemeColor = "#3399cc"

// CreateRazorpayOrder creates a provider order for the plan and records a
// pending transaction keyed by the order id.
func (s *PaymentService) CreateRazorpayOrder(ctx context.Context, userID string, plan domain.PlanType) (*CheckoutPayload, error) {
	if !plan.Valid() {
		return nil, fmt.Errorf("unknown plan %q: %w", plan, domain.ErrValidation)
	}

	price := PlanPrices[plan]
	paise := price * 100
	receipt := fmt.Sprintf("rcpt_%d", time.Now().UnixMilli())
	order, err := s.orders.CreateOrder(ctx, paise, "INR", receipt, map[string]string{
		"user_id": userID,
		"plan":    string(plan),
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	txn := &domain.Transaction{
		UserID:   userID,
		Amount:   price,
		Currency: "INR",
		OrderID:  order.ID,
		Plan:     plan,
		Status:   domain.TransactionPending,
	}
	if err := s.payments.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	return &CheckoutPayload{
		Key:         s.orders.KeyID(),
		Amount:      paise,
		Currency:    order.Currency,
		Name:        "Pictora AI",
		Description: fmt.Sprintf("%s plan - %d credits", strings.ToUpper(string(plan)), CreditsPerPlan[plan]),
		OrderID:     order.ID,
		Notes: map[string]string{
			"user_id": userID,
			"plan":    string(plan),
		},
		Theme: CheckoutTheme{Color: checkoutThemeColor},
	}, nil
}

// VerifyRazorpayPayment checks the checkout signature and settles the pending
// transaction. On signature mismatch the transaction is marked failed and no
// credits move. The returned balance reflects the ledger after settlement.
func (s *PaymentService) VerifyRazorpayPayment(ctx context.Context, userID, orderID, paymentID, signature string, plan domain.PlanType) (int64, error) {
	if orderID == "" || paymentID == "" || signature == "" {
		return 0, fmt.Errorf("orderId, paymentId and signature are required: %w", domain.ErrValidation)
	}
	if !plan.Valid() {
		return 0, fmt.Errorf("unknown plan %q: %w", plan, domain.ErrValidation)
	}

	if !s.orders.VerifyPaymentSignature(orderID, paymentID, signature) {
		if err := s.payments.MarkTransactionFailed(ctx, orderID, userID, paymentID); err != nil {
			s.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to mark transaction failed")
		}
		return 0, domain.ErrInvalidSignature
	}

	applied, err := s.payments.CompletePayment(ctx, domain.PlanGrant{
		UserID:    userID,
		OrderID:   orderID,
		PaymentID: paymentID,
		Plan:      plan,
		Credits:   CreditsPerPlan[plan],
	})
	if err != nil {
		return 0, err
	}
	if !applied {
		s.logger.Info().Str("order_id", orderID).Msg("order already settled, grant skipped")
	}

	return s.credits.GetBalance(ctx, userID)
}

// StripeCheckout is the session handle returned to the frontend.
type StripeCheckout struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateStripeSession opens a Stripe Checkout session for the plan and records
// a pending transaction keyed by the session id.
func (s *PaymentService) CreateStripeSession(ctx context.Context, userID, email string, plan domain.PlanType) (*StripeCheckout, error) {
	if !plan.Valid() {
		return nil, fmt.Errorf("unknown plan %q: %w", plan, domain.ErrValidation)
	}
	if s.stripeSecretKey == "" {
		return nil, errors.New("stripe is not configured")
	}
	stripe.Key = s.stripeSecretKey

	price := PlanPrices[plan]
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.frontendURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.frontendURL + "/payment/cancel"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String("inr"),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Pictora %s plan", plan)),
					},
					UnitAmount: stripe.Int64(price * 100),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"userId": userID,
			"plan":   string(plan),
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	txn := &domain.Transaction{
		UserID:   userID,
		Amount:   price,
		Currency: "INR",
		OrderID:  sess.ID,
		Plan:     plan,
		Status:   domain.TransactionPending,
	}
	if err := s.payments.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	return &StripeCheckout{SessionID: sess.ID, URL: sess.URL}, nil
}

// HandleStripeWebhook verifies and settles a Stripe event. Only completed
// checkout sessions move credits; all other event types are acknowledged
// without effect.
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	if s.stripeWebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret not configured: %w", domain.ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.stripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("verify webhook: %w", domain.ErrInvalidSignature)
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode session: %w", domain.ErrMalformedCallback)
		}
		userID := session.Metadata["userId"]
		plan := domain.PlanType(session.Metadata["plan"])
		if userID == "" || !plan.Valid() {
			return fmt.Errorf("session %s carries no usable metadata: %w", session.ID, domain.ErrMalformedCallback)
		}
		paymentID := session.ID
		if session.PaymentIntent != nil {
			paymentID = session.PaymentIntent.ID
		}

		applied, err := s.payments.CompletePayment(ctx, domain.PlanGrant{
			UserID:    userID,
			OrderID:   session.ID,
			PaymentID: paymentID,
			Plan:      plan,
			Credits:   CreditsPerPlan[plan],
		})
		if err != nil {
			return err
		}
		if !applied {
			s.logger.Info().Str("session_id", session.ID).Msg("session already settled, grant skipped")
		}
		return nil
	default:
		s.logger.Debug().Str("type", string(event.Type)).Msg("ignoring stripe event")
		return nil
	}
}

// ListTransactions returns the user's payment history.
func (s *PaymentService) ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return s.payments.ListTransactions(ctx, userID)
}

// LatestSubscription returns the user's most recent settled plan, if any.
func (s *PaymentService) LatestSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.payments.LatestSubscription(ctx, userID)
}

// Balance returns the user's current credit balance.
func (s *PaymentService) Balance(ctx context.Context, userID string) (int64, error) {
	return s.credits.GetBalance(ctx, userID)
}
