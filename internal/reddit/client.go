package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/chickenbot/internal/config"
	"github.com/stellarlinkco/chickenbot/internal/platform"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const listingLimit = "100"

// forbiddenCodes are API error codes that mean the bot may not post there.
var forbiddenCodes = map[string]bool{
	"THREAD_LOCKED":         true,
	"SUBREDDIT_NOTALLOWED":  true,
	"SUBREDDIT_NOEXIST":     true,
	"USER_BLOCKED":          true,
	"TOO_OLD":               true,
	"BANNED_FROM_SUBREDDIT": true,
}

// Client talks to the Reddit OAuth API.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter

	meMu sync.Mutex
	me   string
}

var _ platform.Platform = (*Client)(nil)

// New authenticates as a script app with the password grant. Tokens are
// minted lazily and re-minted when they expire.
func New(ctx context.Context, cfg config.RedditConfig) *Client {
	base := &http.Client{
		Timeout:   60 * time.Second,
		Transport: &userAgentTransport{agent: cfg.UserAgent, base: http.DefaultTransport},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	ts := oauth2.ReuseTokenSource(nil, &passwordTokenSource{
		ctx:      ctx,
		conf:     oc,
		username: cfg.Username,
		password: cfg.Password,
	})
	return NewWithHTTPClient(cfg, oauth2.NewClient(ctx, ts))
}

// NewWithHTTPClient uses hc as is; hc must already authorize requests.
func NewWithHTTPClient(cfg config.RedditConfig, hc *http.Client) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = config.DefaultRequestsPerMinute
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      hc,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 5),
	}
}

type passwordTokenSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, err
	}
	log.Printf("[reddit] minted access token for u/%s, expires %s", s.username, tok.Expiry.Format(time.RFC3339))
	return tok, nil
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(r)
}

func (c *Client) Search(ctx context.Context, container, pattern string, newestFirst bool) ([]platform.Candidate, error) {
	q := url.Values{
		"q":           {fmt.Sprintf("title:%q", pattern)},
		"restrict_sr": {"on"},
		"type":        {"link"},
		"limit":       {listingLimit},
	}
	if newestFirst {
		q.Set("sort", "new")
	}
	var l listing
	if err := c.get(ctx, "search", "/r/"+url.PathEscape(container)+"/search", q, &l); err != nil {
		return nil, err
	}

	out := make([]platform.Candidate, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var d linkData
		if err := json.Unmarshal(child.Data, &d); err != nil {
			return nil, &platform.Error{Op: "search", Err: fmt.Errorf("decode link: %w", err)}
		}
		out = append(out, platform.Candidate{
			ID:        d.Name,
			Author:    d.Author,
			CreatedAt: unixTime(d.CreatedUTC),
			Title:     d.Title,
			Container: d.SubredditID,
			Subreddit: d.Subreddit,
			Permalink: d.Permalink,
		})
	}
	return out, nil
}

func (c *Client) Reply(ctx context.Context, candidateID, text string) (platform.ReplyRef, error) {
	var resp struct {
		JSON struct {
			Errors [][]any `json:"errors"`
			Data   struct {
				Things []struct {
					Data struct {
						Name      string `json:"name"`
						Permalink string `json:"permalink"`
					} `json:"data"`
				} `json:"things"`
			} `json:"data"`
		} `json:"json"`
	}
	form := url.Values{"api_type": {"json"}, "thing_id": {candidateID}, "text": {text}}
	if err := c.post(ctx, "reply", "/api/comment", form, &resp); err != nil {
		return platform.ReplyRef{}, err
	}
	if err := apiErrors("reply", resp.JSON.Errors); err != nil {
		return platform.ReplyRef{}, err
	}
	if len(resp.JSON.Data.Things) == 0 {
		return platform.ReplyRef{}, &platform.Error{Op: "reply", Err: errors.New("response contained no comment")}
	}
	d := resp.JSON.Data.Things[0].Data
	return platform.ReplyRef{ID: d.Name, Permalink: d.Permalink}, nil
}

func (c *Client) Edit(ctx context.Context, replyID, text string) error {
	var resp apiResponse
	form := url.Values{"api_type": {"json"}, "thing_id": {replyID}, "text": {text}}
	if err := c.post(ctx, "edit", "/api/editusertext", form, &resp); err != nil {
		return err
	}
	return apiErrors("edit", resp.JSON.Errors)
}

func (c *Client) Inbox(ctx context.Context) ([]platform.Message, error) {
	var l listing
	if err := c.get(ctx, "inbox", "/message/inbox", url.Values{"limit": {listingLimit}}, &l); err != nil {
		return nil, err
	}
	out := make([]platform.Message, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		var d messageData
		if err := json.Unmarshal(child.Data, &d); err != nil {
			return nil, &platform.Error{Op: "inbox", Err: fmt.Errorf("decode message: %w", err)}
		}
		out = append(out, platform.Message{
			ID:       d.Name,
			Author:   d.Author,
			Subject:  d.Subject,
			Body:     d.Body,
			IsUnread: d.New,
		})
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.post(ctx, "mark read", "/api/read_message", url.Values{"id": {messageID}}, nil)
}

func (c *Client) SendMessage(ctx context.Context, to, subject, body string) error {
	var resp apiResponse
	form := url.Values{"api_type": {"json"}, "to": {to}, "subject": {subject}, "text": {body}}
	if err := c.post(ctx, "compose", "/api/compose", form, &resp); err != nil {
		return err
	}
	return apiErrors("compose", resp.JSON.Errors)
}

func (c *Client) Comment(ctx context.Context, id string) (platform.Comment, error) {
	var d commentData
	if err := c.info(ctx, "fetch comment", fullname("t1", id), &d); err != nil {
		return platform.Comment{}, err
	}
	return platform.Comment{ID: d.Name, Author: d.Author, ParentPostID: d.LinkID, Permalink: d.Permalink}, nil
}

func (c *Client) Post(ctx context.Context, id string) (platform.Post, error) {
	var d linkData
	if err := c.info(ctx, "fetch post", fullname("t3", id), &d); err != nil {
		return platform.Post{}, err
	}
	return platform.Post{ID: d.Name, Author: d.Author, Title: d.Title, Permalink: d.Permalink}, nil
}

func (c *Client) DeleteComment(ctx context.Context, id string) error {
	return c.post(ctx, "delete", "/api/del", url.Values{"id": {fullname("t1", id)}}, nil)
}

// Me returns the authenticated username, cached after the first call.
func (c *Client) Me(ctx context.Context) (string, error) {
	c.meMu.Lock()
	defer c.meMu.Unlock()
	if c.me != "" {
		return c.me, nil
	}
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.get(ctx, "me", "/api/v1/me", nil, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", &platform.Error{Op: "me", Err: errors.New("empty username")}
	}
	c.me = resp.Name
	return c.me, nil
}

func (c *Client) RecentReplies(ctx context.Context) ([]platform.PastReply, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	var l listing
	q := url.Values{"sort": {"new"}, "limit": {listingLimit}}
	if err := c.get(ctx, "recent replies", "/user/"+url.PathEscape(me)+"/comments", q, &l); err != nil {
		return nil, err
	}
	out := make([]platform.PastReply, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		var d commentData
		if err := json.Unmarshal(child.Data, &d); err != nil {
			return nil, &platform.Error{Op: "recent replies", Err: fmt.Errorf("decode comment: %w", err)}
		}
		out = append(out, platform.PastReply{ParentAuthor: d.LinkAuthor, CreatedAt: unixTime(d.CreatedUTC)})
	}
	return out, nil
}

func (c *Client) info(ctx context.Context, op, name string, out any) error {
	var l listing
	if err := c.get(ctx, op, "/api/info", url.Values{"id": {name}}, &l); err != nil {
		return err
	}
	if len(l.Data.Children) == 0 {
		return fmt.Errorf("%s %s: %w", op, name, platform.ErrNotFound)
	}
	if err := json.Unmarshal(l.Data.Children[0].Data, out); err != nil {
		return &platform.Error{Op: op, Err: fmt.Errorf("decode %s: %w", name, err)}
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("raw_json", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return &platform.Error{Op: op, Err: err}
	}
	return c.do(op, req, out)
}

func (c *Client) post(ctx context.Context, op, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return &platform.Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return &platform.Error{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return &platform.Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &platform.Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, platform.ErrPermissionDenied)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, platform.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &platform.Error{Op: op, Status: resp.StatusCode, Err: errors.New(truncate(strings.TrimSpace(string(body)), 200))}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &platform.Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// apiErrors converts the [[code, message, field], ...] list that api_type=json
// endpoints return.
func apiErrors(op string, errs [][]any) error {
	if len(errs) == 0 || len(errs[0]) == 0 {
		return nil
	}
	code, _ := errs[0][0].(string)
	var msg string
	if len(errs[0]) > 1 {
		msg, _ = errs[0][1].(string)
	}
	if forbiddenCodes[code] {
		return fmt.Errorf("%s: %s %s: %w", op, code, msg, platform.ErrPermissionDenied)
	}
	return &platform.Error{Op: op, Err: fmt.Errorf("%s: %s", code, msg)}
}

func fullname(prefix, id string) string {
	if strings.HasPrefix(id, prefix+"_") {
		return id
	}
	return prefix + "_" + id
}

func unixTime(sec float64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
