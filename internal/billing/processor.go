// Package billing reconciles a user's civic liker subscription with the
// payment processor.
package billing

import (
	"context"
	"errors"
)

// ErrCustomerNotFound is returned by UpdateCustomer when the processor no
// longer knows the stored customer id.
var ErrCustomerNotFound = errors.New("processor customer not found")

// Customer is the data pushed onto the processor customer record.
type Customer struct {
	Email       string
	UserID      string
	DisplayName string
	// Source is a payment source token from the checkout form.
	Source string
	// Locale is sent as the single preferred locale when set.
	Locale string
}

// Subscription is the processor's view of a subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	PlanID            string
	Status            string
	CancelAtPeriodEnd bool
}

// PendingCancel reports whether the subscription is still running but will
// stop at the end of the current period.
func (s Subscription) PendingCancel() bool {
	return s.CancelAtPeriodEnd && s.Status != StatusCanceled
}

const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
)

// Processor is the subset of the payment processor API the reconciliation
// flows need.
type Processor interface {
	CreateCustomer(ctx context.Context, c Customer) (string, error)
	UpdateCustomer(ctx context.Context, customerID string, c Customer) (string, error)
	// ListSubscriptions returns the customer's subscriptions on planID. A
	// limit of zero lists all of them.
	ListSubscriptions(ctx context.Context, customerID, planID string, limit int) ([]Subscription, error)
	CreateSubscription(ctx context.Context, customerID, planID string, metadata map[string]string) (Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
}

// SubscriptionEvent is a verified processor webhook about a subscription.
type SubscriptionEvent struct {
	ID           string
	Type         string
	Subscription Subscription
}

const (
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)
