// Package stripe implements billing.Processor on top of the Stripe API.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/likerland/api/internal/apperr"
	"github.com/likerland/api/internal/billing"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// URL overrides the API base URL. Tests point it at a fake server.
	URL        string
	HTTPClient *http.Client
}

// Client talks to Stripe with its own backend so that the process-wide
// stripe.Key is never touched.
type Client struct {
	cfg           Config
	customers     customer.Client
	subscriptions subscription.Client
}

var _ billing.Processor = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	bc := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     leveledLogger{logger},
	}
	if cfg.URL != "" {
		bc.URL = stripe.String(cfg.URL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)

	return &Client{
		cfg:           cfg,
		customers:     customer.Client{B: backend, Key: cfg.SecretKey},
		subscriptions: subscription.Client{B: backend, Key: cfg.SecretKey},
	}
}

func customerParams(ctx context.Context, c billing.Customer) *stripe.CustomerParams {
	params := &stripe.CustomerParams{
		Email: stripe.String(c.Email),
	}
	params.Context = ctx
	params.AddMetadata("userId", c.UserID)
	params.AddMetadata("displayName", c.DisplayName)
	if c.Source != "" {
		params.Source = stripe.String(c.Source)
	}
	if c.Locale != "" {
		params.PreferredLocales = stripe.StringSlice([]string{c.Locale})
	}
	return params
}

// CreateCustomer creates a Stripe customer and returns the customer ID.
func (c *Client) CreateCustomer(ctx context.Context, info billing.Customer) (string, error) {
	cust, err := c.customers.New(customerParams(ctx, info))
	if err != nil {
		return "", classify("create customer", err)
	}
	return cust.ID, nil
}

// UpdateCustomer overwrites the customer's details. It returns
// billing.ErrCustomerNotFound when Stripe no longer has the customer.
func (c *Client) UpdateCustomer(ctx context.Context, id string, info billing.Customer) (string, error) {
	cust, err := c.customers.Update(id, customerParams(ctx, info))
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
			return "", fmt.Errorf("update customer %s: %w", id, billing.ErrCustomerNotFound)
		}
		return "", classify("update customer", err)
	}
	return cust.ID, nil
}

func (c *Client) ListSubscriptions(ctx context.Context, customerID, planID string, limit int) ([]billing.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Price:    stripe.String(planID),
	}
	params.Context = ctx
	if limit > 0 {
		params.Limit = stripe.Int64(int64(limit))
	}

	var out []billing.Subscription
	iter := c.subscriptions.List(params)
	for iter.Next() {
		out = append(out, fromStripe(iter.Subscription()))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, classify("list subscriptions", err)
	}
	return out, nil
}

func (c *Client) CreateSubscription(ctx context.Context, customerID, planID string, metadata map[string]string) (billing.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(planID)},
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	sub, err := c.subscriptions.New(params)
	if err != nil {
		return billing.Subscription{}, classify("create subscription", err)
	}
	return fromStripe(sub), nil
}

func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (billing.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	sub, err := c.subscriptions.Update(id, params)
	if err != nil {
		return billing.Subscription{}, classify("update subscription", err)
	}
	return fromStripe(sub), nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (billing.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.subscriptions.Get(id, params)
	if err != nil {
		return billing.Subscription{}, classify("get subscription", err)
	}
	return fromStripe(sub), nil
}

// ConstructWebhookEvent verifies the signature and decodes subscription
// events. Other event types are returned without a subscription.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (billing.SubscriptionEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return billing.SubscriptionEvent{}, fmt.Errorf("%w: webhook signature: %v", apperr.ErrInvalidRequest, err)
	}

	ev := billing.SubscriptionEvent{ID: event.ID, Type: string(event.Type)}
	switch ev.Type {
	case billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if event.Data == nil {
			return ev, fmt.Errorf("%w: event %s has no data", apperr.ErrInvalidRequest, event.ID)
		}
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return ev, fmt.Errorf("%w: parse subscription: %v", apperr.ErrInvalidRequest, err)
		}
		ev.Subscription = fromStripe(&sub)
	}
	return ev, nil
}

func fromStripe(s *stripe.Subscription) billing.Subscription {
	out := billing.Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item.Price != nil {
				out.PlanID = item.Price.ID
				break
			}
		}
	}
	return out
}

// classify maps Stripe failures onto the service's error kinds. Card
// errors are the caller's fault; everything else is an upstream failure.
func classify(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		return fmt.Errorf("%s: %w: %s", op, apperr.ErrInvalidRequest, se.Msg)
	}
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrUpstreamUnavailable, err)
}

// leveledLogger routes stripe-go's own logging through slog.
type leveledLogger struct {
	logger *slog.Logger
}

func (l leveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l leveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l leveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l leveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
