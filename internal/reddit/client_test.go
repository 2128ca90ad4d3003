package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stellarlinkco/chickenbot/internal/config"
	"github.com/stellarlinkco/chickenbot/internal/platform"
)

const testAgent = "test:chickenbot:v0"

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewWithHTTPClient(config.RedditConfig{
		APIBaseURL:        srv.URL,
		UserAgent:         testAgent,
		RequestsPerMinute: 60000,
	}, srv.Client())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func listingOf(kind string, items ...map[string]any) map[string]any {
	children := make([]map[string]any, 0, len(items))
	for _, it := range items {
		children = append(children, map[string]any{"kind": kind, "data": it})
	}
	return map[string]any{"kind": "Listing", "data": map[string]any{"children": children}}
}

func TestSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /r/all/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != `title:"why did the chicken cross the road"` {
			t.Errorf("q = %q", q.Get("q"))
		}
		if q.Get("sort") != "new" || q.Get("restrict_sr") != "on" {
			t.Errorf("query = %v", q)
		}
		if r.Header.Get("User-Agent") != testAgent {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		writeJSON(w, listingOf("t3", map[string]any{
			"name":         "t3_abc",
			"author":       "alice",
			"created_utc":  1767225600.0,
			"title":        "Why did the chicken cross the road?",
			"subreddit":    "jokes",
			"subreddit_id": "t5_2qh72",
			"permalink":    "/r/jokes/comments/abc/why_did_the_chicken/",
		}))
	})
	c := newTestClient(t, mux)

	got, err := c.Search(context.Background(), "all", "why did the chicken cross the road", true)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	want := []platform.Candidate{{
		ID:        "t3_abc",
		Author:    "alice",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Title:     "Why did the chicken cross the road?",
		Container: "t5_2qh72",
		Subreddit: "jokes",
		Permalink: "/r/jokes/comments/abc/why_did_the_chicken/",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Search mismatch (-want +got):\n%s", diff)
	}
}

func TestReply(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/comment", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("thing_id") != "t3_abc" || r.PostForm.Get("text") != "to get to the other side" {
			t.Errorf("form = %v", r.PostForm)
		}
		writeJSON(w, map[string]any{"json": map[string]any{
			"errors": []any{},
			"data": map[string]any{"things": []any{
				map[string]any{"kind": "t1", "data": map[string]any{
					"name":      "t1_reply",
					"permalink": "/r/jokes/comments/abc/why/reply/",
				}},
			}},
		}})
	})
	c := newTestClient(t, mux)

	ref, err := c.Reply(context.Background(), "t3_abc", "to get to the other side")
	if err != nil {
		t.Fatalf("Reply error: %v", err)
	}
	if ref.ID != "t1_reply" || ref.Permalink != "/r/jokes/comments/abc/why/reply/" {
		t.Errorf("ref = %+v", ref)
	}
}

func TestReply_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		forbidden bool
		status    int
	}{
		{
			name: "http 403",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			forbidden: true,
		},
		{
			name: "locked thread",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"json": map[string]any{
					"errors": [][]string{{"THREAD_LOCKED", "that thread is locked", "parent"}},
				}})
			},
			forbidden: true,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"json": map[string]any{
					"errors": [][]string{{"RATELIMIT", "take a break", "ratelimit"}},
				}})
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream down", http.StatusBadGateway)
			},
			status: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /api/comment", tt.handler)
			c := newTestClient(t, mux)

			_, err := c.Reply(context.Background(), "t3_abc", "text")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := platform.IsForbidden(err); got != tt.forbidden {
				t.Errorf("IsForbidden = %v, want %v (err=%v)", got, tt.forbidden, err)
			}
			if !tt.forbidden {
				var perr *platform.Error
				if !errors.As(err, &perr) {
					t.Fatalf("err = %v, want *platform.Error", err)
				}
				if perr.Status != tt.status {
					t.Errorf("status = %d, want %d", perr.Status, tt.status)
				}
			}
		})
	}
}

func TestInboxAndMarkRead(t *testing.T) {
	var marked atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("GET /message/inbox", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, listingOf("t4",
			map[string]any{"name": "t4_1", "author": "alice", "subject": "Removal request", "body": "remove x", "new": true},
			map[string]any{"name": "t4_2", "author": "bob", "subject": "hi", "body": "hello", "new": false},
		))
	})
	mux.HandleFunc("POST /api/read_message", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		marked.Store(r.PostForm.Get("id"))
		writeJSON(w, map[string]any{})
	})
	c := newTestClient(t, mux)

	msgs, err := c.Inbox(context.Background())
	if err != nil {
		t.Fatalf("Inbox error: %v", err)
	}
	want := []platform.Message{
		{ID: "t4_1", Author: "alice", Subject: "Removal request", Body: "remove x", IsUnread: true},
		{ID: "t4_2", Author: "bob", Subject: "hi", Body: "hello"},
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("Inbox mismatch (-want +got):\n%s", diff)
	}

	if err := c.MarkRead(context.Background(), "t4_1"); err != nil {
		t.Fatalf("MarkRead error: %v", err)
	}
	if got, _ := marked.Load().(string); got != "t4_1" {
		t.Errorf("marked = %q", got)
	}
}

func TestCommentAndPost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/info", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "t1_def":
			writeJSON(w, listingOf("t1", map[string]any{
				"name": "t1_def", "author": "chickenbot", "link_id": "t3_abc",
				"permalink": "/r/jokes/comments/abc/why/def/",
			}))
		case "t3_abc":
			writeJSON(w, listingOf("t3", map[string]any{
				"name": "t3_abc", "author": "alice", "title": "Why did the chicken cross the road?",
				"permalink": "/r/jokes/comments/abc/why/",
			}))
		default:
			writeJSON(w, listingOf("t1"))
		}
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	cm, err := c.Comment(ctx, "def")
	if err != nil {
		t.Fatalf("Comment error: %v", err)
	}
	if cm.Author != "chickenbot" || cm.ParentPostID != "t3_abc" {
		t.Errorf("comment = %+v", cm)
	}

	p, err := c.Post(ctx, cm.ParentPostID)
	if err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if p.Author != "alice" {
		t.Errorf("post = %+v", p)
	}

	if _, err := c.Comment(ctx, "gone"); !platform.IsNotFound(err) {
		t.Errorf("Comment(gone) error = %v, want not found", err)
	}
}

func TestMeAndRecentReplies(t *testing.T) {
	var meCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		meCalls.Add(1)
		writeJSON(w, map[string]any{"name": "chickenbot"})
	})
	mux.HandleFunc("GET /user/chickenbot/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, listingOf("t1",
			map[string]any{"name": "t1_a", "link_author": "alice", "created_utc": 1767225600.0},
			map[string]any{"name": "t1_b", "link_author": "bob", "created_utc": 1767222000.0},
		))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	got, err := c.RecentReplies(ctx)
	if err != nil {
		t.Fatalf("RecentReplies error: %v", err)
	}
	want := []platform.PastReply{
		{ParentAuthor: "alice", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ParentAuthor: "bob", CreatedAt: time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentReplies mismatch (-want +got):\n%s", diff)
	}

	if _, err := c.Me(ctx); err != nil {
		t.Fatalf("Me error: %v", err)
	}
	if n := meCalls.Load(); n != 1 {
		t.Errorf("me calls = %d, want 1 (cached)", n)
	}
}

func TestEditSendDelete(t *testing.T) {
	var edited, composed, deleted atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/editusertext", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		edited.Store(r.PostForm.Get("thing_id") == "t1_reply")
		writeJSON(w, map[string]any{"json": map[string]any{"errors": []any{}}})
	})
	mux.HandleFunc("POST /api/compose", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		composed.Store(r.PostForm.Get("to") == "alice" && r.PostForm.Get("subject") == "Removal request")
		writeJSON(w, map[string]any{"json": map[string]any{"errors": []any{}}})
	})
	mux.HandleFunc("POST /api/del", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		deleted.Store(r.PostForm.Get("id") == "t1_reply")
		writeJSON(w, map[string]any{})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	if err := c.Edit(ctx, "t1_reply", "new text"); err != nil {
		t.Fatalf("Edit error: %v", err)
	}
	if err := c.SendMessage(ctx, "alice", "Removal request", "done"); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if err := c.DeleteComment(ctx, "reply"); err != nil {
		t.Fatalf("DeleteComment error: %v", err)
	}
	if !edited.Load() || !composed.Load() || !deleted.Load() {
		t.Errorf("edited=%v composed=%v deleted=%v", edited.Load(), composed.Load(), deleted.Load())
	}
}

func TestNew_PasswordGrant(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		if r.Header.Get("User-Agent") != testAgent {
			t.Errorf("token User-Agent = %q", r.Header.Get("User-Agent"))
		}
		r.ParseForm()
		if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("username") != "chickenbot" {
			t.Errorf("token form = %v", r.PostForm)
		}
		writeJSON(w, map[string]any{"access_token": "tok-1", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, map[string]any{"name": "chickenbot"})
	})
	mux.HandleFunc("GET /message/inbox", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, listingOf("t4"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(context.Background(), config.RedditConfig{
		ClientID:          "client",
		ClientSecret:      "secret",
		Username:          "chickenbot",
		Password:          "hunter2",
		UserAgent:         testAgent,
		APIBaseURL:        srv.URL,
		TokenURL:          srv.URL + "/api/v1/access_token",
		RequestsPerMinute: 60000,
	})

	me, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me error: %v", err)
	}
	if me != "chickenbot" {
		t.Errorf("me = %q", me)
	}
	if _, err := c.Inbox(context.Background()); err != nil {
		t.Fatalf("Inbox error: %v", err)
	}
	if n := tokenCalls.Load(); n != 1 {
		t.Errorf("token calls = %d, want 1 (reused)", n)
	}
}

func TestFullname(t *testing.T) {
	for _, tt := range []struct{ prefix, id, want string }{
		{"t1", "abc", "t1_abc"},
		{"t1", "t1_abc", "t1_abc"},
		{"t3", "xyz", "t3_xyz"},
	} {
		if got := fullname(tt.prefix, tt.id); got != tt.want {
			t.Errorf("fullname(%q, %q) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}
