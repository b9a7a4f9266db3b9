package model

import "time"

// User is a LikeCoin user who has signed in at least once.
type User struct {
	ID          string        `json:"user"`
	Email       string        `json:"email"`
	DisplayName string        `json:"displayName"`
	Locale      string        `json:"locale"`
	Billing     BillingRecord `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// BillingRecord links a user to the payment processor. SubscriptionID is
// only ever set together with CustomerID.
type BillingRecord struct {
	CustomerID     *string `json:"customer_id"`
	SubscriptionID *string `json:"subscription_id"`
	PlanID         *string `json:"plan_id"`
	// Status is the last subscription status reported by a webhook.
	Status string `json:"status"`
}

func (b BillingRecord) Customer() string     { return deref(b.CustomerID) }
func (b BillingRecord) Subscription() string { return deref(b.SubscriptionID) }
func (b BillingRecord) Plan() string         { return deref(b.PlanID) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
