package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/likerland/api/internal/apperr"
	"github.com/likerland/api/internal/metrics"
	"github.com/likerland/api/internal/model"
)

// MaxReferrerLength bounds the referrer stored as subscription metadata.
const MaxReferrerLength = 500

// Users reads and updates the billing record of a user.
type Users interface {
	GetByID(id string) (*model.User, error)
	GetBySubscriptionID(subscriptionID string) (*model.User, error)
	UpdateBilling(id string, rec model.BillingRecord) error
	UpdateStripeStatus(id, status string) error
}

// SubscribeRequest is the checkout form submitted by the user.
type SubscribeRequest struct {
	Token    string
	From     string
	Referrer string
}

type Service struct {
	processor Processor
	users     Users
	planID    string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	locks     *keyedMutex
}

func NewService(p Processor, users Users, planID string, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		processor: p,
		users:     users,
		planID:    planID,
		logger:    logger,
		metrics:   m,
		locks:     newKeyedMutex(),
	}
}

// PlanID returns the plan new subscriptions are created on.
func (s *Service) PlanID() string { return s.planID }

func (s *Service) user(sess *model.Session) (*model.User, error) {
	if !sess.Active() {
		return nil, apperr.ErrForbidden
	}
	u, err := s.users.GetByID(sess.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.ErrForbidden
	}
	return u, nil
}

// Subscribe makes sure the session's user has exactly one live subscription
// on the configured plan and returns its status. A subscription pending
// cancellation is resumed rather than duplicated.
func (s *Service) Subscribe(ctx context.Context, sess *model.Session, req SubscribeRequest) (string, error) {
	if !sess.Active() {
		return "", apperr.ErrForbidden
	}
	unlock := s.locks.Lock(sess.UserID)
	defer unlock()

	u, err := s.user(sess)
	if err != nil {
		return "", err
	}

	customerID, existing, err := s.upsertCustomer(ctx, u, req.Token)
	if err != nil {
		s.metrics.Subscription("subscribe", "error")
		return "", err
	}

	var (
		sub     Subscription
		found   bool
		outcome string
	)
	if existing {
		subs, err := s.processor.ListSubscriptions(ctx, customerID, s.planID, 1)
		if err != nil {
			s.metrics.Subscription("subscribe", "error")
			return "", fmt.Errorf("list subscriptions: %w", err)
		}
		if len(subs) > 0 {
			sub, found, outcome = subs[0], true, "reused"
			if sub.CancelAtPeriodEnd {
				sub, err = s.processor.SetCancelAtPeriodEnd(ctx, sub.ID, false)
				if err != nil {
					s.metrics.Subscription("subscribe", "error")
					return "", fmt.Errorf("resume subscription: %w", err)
				}
				outcome = "resumed"
			}
		}
	}
	if !found {
		sub, err = s.processor.CreateSubscription(ctx, customerID, s.planID, subscriptionMetadata(u, req))
		if err != nil {
			s.metrics.Subscription("subscribe", "error")
			return "", fmt.Errorf("create subscription: %w", err)
		}
		outcome = "created"
	}

	planID := s.planID
	rec := model.BillingRecord{
		CustomerID:     &customerID,
		SubscriptionID: &sub.ID,
		PlanID:         &planID,
	}
	if err := s.users.UpdateBilling(u.ID, rec); err != nil {
		s.metrics.Subscription("subscribe", "error")
		return "", fmt.Errorf("store billing record: %w", err)
	}

	s.metrics.Subscription("subscribe", outcome)
	s.logger.Info("subscription reconciled",
		"user", u.ID,
		"customer", customerID,
		"subscription", sub.ID,
		"outcome", outcome,
		"status", sub.Status,
	)
	return sub.Status, nil
}

// upsertCustomer updates the stored processor customer, or creates one when
// none is stored or the stored one is gone. existing reports whether an
// already known customer was updated.
func (s *Service) upsertCustomer(ctx context.Context, u *model.User, token string) (id string, existing bool, err error) {
	info := Customer{
		Email:       u.Email,
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Source:      token,
		Locale:      u.Locale,
	}

	if stored := u.Billing.Customer(); stored != "" {
		id, err = s.processor.UpdateCustomer(ctx, stored, info)
		switch {
		case err == nil:
			return id, true, nil
		case errors.Is(err, ErrCustomerNotFound):
			s.logger.Warn("stored customer missing at processor, creating a new one",
				"user", u.ID, "customer", stored)
		default:
			return "", false, fmt.Errorf("update customer: %w", err)
		}
	}

	id, err = s.processor.CreateCustomer(ctx, info)
	if err != nil {
		return "", false, fmt.Errorf("create customer: %w", err)
	}
	return id, false, nil
}

func subscriptionMetadata(u *model.User, req SubscribeRequest) map[string]string {
	md := map[string]string{
		"userId":      u.ID,
		"displayName": u.DisplayName,
	}
	if req.From != "" {
		md["from"] = req.From
	}
	if req.Referrer != "" {
		md["referrer"] = truncate(req.Referrer, MaxReferrerLength)
	}
	return md
}

// truncate shortens s to at most n characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Cancel sets cancel-at-period-end on every subscription the user's stored
// customer has on the stored plan, and returns the status of the stored
// subscription.
func (s *Service) Cancel(ctx context.Context, sess *model.Session) (string, error) {
	if !sess.Active() {
		return "", apperr.ErrForbidden
	}
	unlock := s.locks.Lock(sess.UserID)
	defer unlock()

	u, err := s.user(sess)
	if err != nil {
		return "", err
	}
	rec := u.Billing
	if rec.Customer() == "" {
		return "", fmt.Errorf("%w: no customer on record", apperr.ErrNotFound)
	}
	planID := rec.Plan()
	if planID == "" {
		planID = s.planID
	}

	subs, err := s.processor.ListSubscriptions(ctx, rec.Customer(), planID, 0)
	if err != nil {
		s.metrics.Subscription("cancel", "error")
		return "", fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		s.metrics.Subscription("cancel", "not_found")
		return "", fmt.Errorf("%w: no subscription on plan %s", apperr.ErrNotFound, planID)
	}

	updated := make([]Subscription, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		g.Go(func() error {
			res, err := s.processor.SetCancelAtPeriodEnd(gctx, sub.ID, true)
			if err != nil {
				return fmt.Errorf("cancel subscription %s: %w", sub.ID, err)
			}
			updated[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.metrics.Subscription("cancel", "error")
		return "", err
	}

	for _, sub := range updated {
		if sub.ID == rec.Subscription() {
			s.metrics.Subscription("cancel", "canceled")
			s.logger.Info("subscription set to cancel at period end",
				"user", u.ID, "subscription", sub.ID, "count", len(updated))
			return sub.Status, nil
		}
	}

	s.metrics.Subscription("cancel", "drift")
	s.logger.Error("stored subscription not found at processor",
		"user", u.ID,
		"customer", rec.Customer(),
		"subscription", rec.Subscription(),
		"plan", planID,
		"listed", len(updated),
	)
	return "", fmt.Errorf("%w: subscription %q not among %d listed for customer %s",
		apperr.ErrDataDrift, rec.Subscription(), len(updated), rec.Customer())
}

// Status returns the processor status of the user's stored subscription.
func (s *Service) Status(ctx context.Context, sess *model.Session) (string, error) {
	u, err := s.user(sess)
	if err != nil {
		return "", err
	}
	id := u.Billing.Subscription()
	if id == "" {
		return "", fmt.Errorf("%w: no subscription on record", apperr.ErrNotFound)
	}
	sub, err := s.processor.GetSubscription(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get subscription: %w", err)
	}
	return sub.Status, nil
}

// ApplyEvent mirrors a subscription webhook onto the owning user's record.
// Events for other types or unknown subscriptions are ignored.
func (s *Service) ApplyEvent(ev SubscriptionEvent) error {
	switch ev.Type {
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
	default:
		s.logger.Debug("ignoring webhook event", "type", ev.Type, "id", ev.ID)
		return nil
	}

	u, err := s.users.GetBySubscriptionID(ev.Subscription.ID)
	if err != nil {
		return err
	}
	if u == nil {
		s.logger.Warn("webhook for unknown subscription", "subscription", ev.Subscription.ID, "event", ev.ID)
		return nil
	}

	status := ev.Subscription.Status
	if ev.Type == EventSubscriptionDeleted {
		status = StatusCanceled
	}
	if err := s.users.UpdateStripeStatus(u.ID, status); err != nil {
		return err
	}
	s.metrics.Subscription("webhook", status)
	s.logger.Info("subscription status synced", "user", u.ID, "subscription", ev.Subscription.ID, "status", status)
	return nil
}
