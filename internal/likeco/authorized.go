package likeco

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/likerland/api/internal/apperr"
	"github.com/likerland/api/internal/metrics"
	"github.com/likerland/api/internal/model"
	"github.com/likerland/api/internal/retry"
)

// RefreshTokens reads and rotates stored refresh tokens.
type RefreshTokens interface {
	RefreshToken(userID string) (string, error)
	SetRefreshToken(userID, token string) error
}

// SessionWriter persists session changes made during a refresh.
type SessionWriter interface {
	UpdateAccessToken(id int64, accessToken string) error
	Delete(id int64) error
}

// Authorizer runs bearer-authenticated calls for a session, refreshing an
// expired access token once.
type Authorizer struct {
	client   *Client
	tokens   RefreshTokens
	sessions SessionWriter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewAuthorizer(c *Client, tokens RefreshTokens, sessions SessionWriter, logger *slog.Logger, m *metrics.Metrics) *Authorizer {
	return &Authorizer{
		client:   c,
		tokens:   tokens,
		sessions: sessions,
		logger:   logger,
		metrics:  m,
	}
}

// Authorized invokes call with the session's bearer token. On a 401 it
// refreshes the token once and retries once; the retry's result is
// returned as is. If the refresh cannot happen the session is cleared and
// apperr.ErrSessionExpired is returned. call runs at most twice.
func Authorized[T any](ctx context.Context, a *Authorizer, sess *model.Session, call func(ctx context.Context, authorization string) (T, error)) (T, error) {
	if !sess.Active() {
		var zero T
		return zero, apperr.ErrForbidden
	}
	return retry.RepairOnce(ctx,
		func(ctx context.Context) (T, error) {
			return call(ctx, Bearer(sess.AccessToken))
		},
		IsUnauthorized,
		func(ctx context.Context, _ error) error {
			return a.refresh(ctx, sess)
		},
	)
}

func (a *Authorizer) refresh(ctx context.Context, sess *model.Session) error {
	userID := sess.UserID

	refreshToken, err := a.tokens.RefreshToken(userID)
	if err != nil {
		a.logger.Error("load refresh token", "user", userID, "error", err)
		a.invalidate(sess, "store_error")
		return fmt.Errorf("%w: load refresh token: %v", apperr.ErrSessionExpired, err)
	}
	if refreshToken == "" {
		a.logger.Warn("no refresh token, clearing session", "user", userID)
		a.invalidate(sess, "missing")
		return apperr.ErrSessionExpired
	}

	tok, err := a.client.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		a.logger.Error("refresh access token failed", "user", userID, "cause", FailureCause(err))
		a.invalidate(sess, "rejected")
		return apperr.ErrSessionExpired
	}

	sess.AccessToken = tok.AccessToken
	if err := a.sessions.UpdateAccessToken(sess.ID, tok.AccessToken); err != nil {
		a.logger.Warn("persist refreshed access token", "user", userID, "error", err)
	}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		if err := a.tokens.SetRefreshToken(userID, tok.RefreshToken); err != nil {
			a.logger.Warn("store rotated refresh token", "user", userID, "error", err)
		}
	}
	a.metrics.TokenRefresh("ok")
	a.logger.Debug("access token refreshed", "user", userID)
	return nil
}

func (a *Authorizer) invalidate(sess *model.Session, reason string) {
	if err := a.sessions.Delete(sess.ID); err != nil {
		a.logger.Warn("delete session", "user", sess.UserID, "error", err)
	}
	sess.Clear()
	a.metrics.TokenRefresh(reason)
}

// UserProfile fetches the caller's private profile.
func (a *Authorizer) UserProfile(ctx context.Context, sess *model.Session) (json.RawMessage, error) {
	return Authorized(ctx, a, sess, a.client.FetchUserProfile)
}

func (a *Authorizer) LikedUsers(ctx context.Context, sess *model.Session) (json.RawMessage, error) {
	return Authorized(ctx, a, sess, a.client.FetchLikedUsers)
}

func (a *Authorizer) ArticleInfo(ctx context.Context, sess *model.Session, articleURL string) (json.RawMessage, error) {
	return Authorized(ctx, a, sess, func(ctx context.Context, authorization string) (json.RawMessage, error) {
		return a.client.PostArticleForInfo(ctx, authorization, articleURL)
	})
}

func (a *Authorizer) JoinTrialEvent(ctx context.Context, sess *model.Session, id string) (json.RawMessage, error) {
	return Authorized(ctx, a, sess, func(ctx context.Context, authorization string) (json.RawMessage, error) {
		return a.client.JoinTrialEvent(ctx, authorization, id)
	})
}

// FollowedArticles lists the latest articles of users the caller liked.
func (a *Authorizer) FollowedArticles(ctx context.Context, sess *model.Session, page Page) (json.RawMessage, error) {
	liked, err := a.LikedUsers(ctx, sess)
	if err != nil {
		return nil, err
	}
	var users []string
	if err := json.Unmarshal(liked, &users); err != nil {
		return nil, fmt.Errorf("%w: decode liked users: %v", apperr.ErrUpstreamUnavailable, err)
	}
	if len(users) == 0 {
		return json.RawMessage("[]"), nil
	}
	return a.client.FetchFollowedArticles(ctx, users, page)
}
