package likeco

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Profile is the subset of /users/profile this service stores.
type Profile struct {
	User        string `json:"user"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Locale      string `json:"locale"`
}

// Page bounds a list of articles. Zero fields are omitted.
type Page struct {
	Limit  int
	After  int64
	Before int64
}

func (p Page) values() url.Values {
	v := url.Values{}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.After > 0 {
		v.Set("after", strconv.FormatInt(p.After, 10))
	}
	if p.Before > 0 {
		v.Set("before", strconv.FormatInt(p.Before, 10))
	}
	return v
}

// ParseProfile decodes a /users/profile reply.
func ParseProfile(raw json.RawMessage) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if p.User == "" {
		return Profile{}, fmt.Errorf("decode profile: missing user id")
	}
	return p, nil
}

func (c *Client) FetchUserProfile(ctx context.Context, authorization string) (json.RawMessage, error) {
	return c.do(ctx, request{
		method:        http.MethodGet,
		url:           c.apiURL("/users/profile"),
		authorization: authorization,
	})
}

func (c *Client) FetchUserPublicProfile(ctx context.Context, user string) (json.RawMessage, error) {
	return c.do(ctx, request{
		method: http.MethodGet,
		url:    c.apiURL("/users/id/" + url.PathEscape(user) + "/min"),
	})
}

// FetchLikedUsers lists the users whose content the caller has liked.
func (c *Client) FetchLikedUsers(ctx context.Context, authorization string) (json.RawMessage, error) {
	return c.do(ctx, request{
		method:        http.MethodGet,
		url:           c.apiURL("/like/info/liked/list"),
		authorization: authorization,
	})
}

func (c *Client) FetchFollowedArticles(ctx context.Context, users []string, page Page) (json.RawMessage, error) {
	return c.do(ctx, request{
		method: http.MethodPost,
		url:    c.apiURL("/like/info/users/latest"),
		query:  page.values(),
		body:   map[string][]string{"users": users},
	})
}

func (c *Client) FetchUserArticles(ctx context.Context, user string, page Page) (json.RawMessage, error) {
	return c.do(ctx, request{
		method: http.MethodGet,
		url:    c.apiURL("/like/info/user/" + url.PathEscape(user) + "/latest"),
		query:  page.values(),
	})
}

func (c *Client) FetchSuggestedArticles(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, request{
		method: http.MethodGet,
		url:    c.apiURL("/like/suggest/all"),
	})
}

// PostArticleForInfo asks the API to look up (and register) an article URL
// on behalf of the caller.
func (c *Client) PostArticleForInfo(ctx context.Context, authorization, articleURL string) (json.RawMessage, error) {
	return c.do(ctx, request{
		method:        http.MethodPost,
		url:           c.apiURL("/like/info"),
		body:          map[string]string{"url": articleURL},
		authorization: authorization,
	})
}

func (c *Client) FetchArticleDetail(ctx context.Context, articleURL string) (json.RawMessage, error) {
	return c.do(ctx, request{
		method: http.MethodGet,
		url:    c.apiURL("/like/info"),
		query:  url.Values{"url": {articleURL}},
	})
}

func (c *Client) FetchCivicCSOnline(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, request{
		method: http.MethodGet,
		url:    c.siteURL("/api/civic/csonline"),
	})
}

func (c *Client) FetchTrialEvent(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, request{
		method: http.MethodGet,
		url:    c.siteURL("/api/civic/trial/events/" + url.PathEscape(id)),
	})
}

func (c *Client) JoinTrialEvent(ctx context.Context, authorization, id string) (json.RawMessage, error) {
	return c.do(ctx, request{
		method:        http.MethodPost,
		url:           c.siteURL("/api/civic/trial/events/" + url.PathEscape(id) + "/join"),
		body:          struct{}{},
		authorization: authorization,
	})
}
