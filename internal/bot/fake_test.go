package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/chickenbot/internal/bus"
	"github.com/stellarlinkco/chickenbot/internal/cooldown"
	"github.com/stellarlinkco/chickenbot/internal/journal"
	"github.com/stellarlinkco/chickenbot/internal/platform"
	"github.com/stellarlinkco/chickenbot/internal/responses"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type sentReply struct {
	CandidateID string
	Text        string
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

// fakePlatform is an in-memory platform.Platform.
type fakePlatform struct {
	mu sync.Mutex

	searchResults []platform.Candidate
	searchErr     error
	searchPanic   bool
	searchCalls   int

	replyErr error
	replies  []sentReply
	editErr  error
	edits    map[string]string

	inbox       []platform.Message
	inboxErr    error
	markReadErr map[string]error
	read        []string
	sent        []sentMessage

	comments  map[string]platform.Comment
	posts     map[string]platform.Post
	deleteErr error
	deleted   []string

	recent []platform.PastReply
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		edits:       make(map[string]string),
		markReadErr: make(map[string]error),
		comments:    make(map[string]platform.Comment),
		posts:       make(map[string]platform.Post),
	}
}

func (f *fakePlatform) Search(ctx context.Context, container, pattern string, newestFirst bool) ([]platform.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchPanic {
		panic("search exploded")
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	out := make([]platform.Candidate, len(f.searchResults))
	copy(out, f.searchResults)
	return out, nil
}

func (f *fakePlatform) Reply(ctx context.Context, candidateID, text string) (platform.ReplyRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return platform.ReplyRef{}, f.replyErr
	}
	f.replies = append(f.replies, sentReply{CandidateID: candidateID, Text: text})
	n := len(f.replies)
	return platform.ReplyRef{
		ID:        fmt.Sprintf("t1_r%d", n),
		Permalink: fmt.Sprintf("/r/jokes/comments/p%d/why/r%d/", n, n),
	}, nil
}

func (f *fakePlatform) Edit(ctx context.Context, replyID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits[replyID] = text
	return nil
}

func (f *fakePlatform) Inbox(ctx context.Context) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inboxErr != nil {
		return nil, f.inboxErr
	}
	out := make([]platform.Message, len(f.inbox))
	copy(out, f.inbox)
	return out, nil
}

func (f *fakePlatform) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markReadErr[id]; err != nil {
		return err
	}
	f.read = append(f.read, id)
	for i := range f.inbox {
		if f.inbox[i].ID == id {
			f.inbox[i].IsUnread = false
		}
	}
	return nil
}

func (f *fakePlatform) SendMessage(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakePlatform) Comment(ctx context.Context, id string) (platform.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[id]
	if !ok {
		return platform.Comment{}, fmt.Errorf("comment %s: %w", id, platform.ErrNotFound)
	}
	return c, nil
}

func (f *fakePlatform) Post(ctx context.Context, id string) (platform.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return platform.Post{}, fmt.Errorf("post %s: %w", id, platform.ErrNotFound)
	}
	return p, nil
}

func (f *fakePlatform) DeleteComment(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePlatform) Me(ctx context.Context) (string, error) { return "chickenbot", nil }

func (f *fakePlatform) RecentReplies(ctx context.Context) ([]platform.PastReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent, nil
}

// memSnapshot keeps the queue snapshot in memory.
type memSnapshot struct {
	mu    sync.Mutex
	items []string
}

func (m *memSnapshot) SaveQueue(items []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append([]string(nil), items...)
	return nil
}

func (m *memSnapshot) LoadQueue() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.items...), nil
}

type watermarkRecorder struct {
	mu    sync.Mutex
	saved []time.Time
}

func (w *watermarkRecorder) SaveWatermark(t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saved = append(w.saved, t)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *eventRecorder) Publish(ev bus.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *eventRecorder) kinds() []bus.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	p        *fakePlatform
	env      *Env
	clock    *fakeClock
	events   *eventRecorder
	snap     *memSnapshot
	queue    *responses.Queue
	counters *Counters
}

func newHarness(t *testing.T, corpus ...string) *harness {
	t.Helper()
	if len(corpus) == 0 {
		corpus = []string{"To get to the other side."}
	}
	dir := t.TempDir()
	j, err := journal.Open(journal.Paths{
		Replies:   filepath.Join(dir, "chickenbot_log.txt"),
		Incidents: filepath.Join(dir, "forbidden_log.txt"),
		Errors:    filepath.Join(dir, "error_log.txt"),
	})
	if err != nil {
		t.Fatalf("journal.Open error: %v", err)
	}

	clock := &fakeClock{now: t0}
	h := &harness{
		p:        newFakePlatform(),
		clock:    clock,
		events:   &eventRecorder{},
		snap:     &memSnapshot{},
		counters: NewCounters(0),
	}
	h.env = &Env{
		Platform:    h.p,
		Registry:    cooldown.New(24*time.Hour, 30*time.Minute, t0),
		Journal:     j,
		Events:      h.events,
		BotName:     "chickenbot",
		CallTimeout: time.Second,
		Now:         clock.Now,
	}

	src := func() ([]string, error) { return corpus, nil }
	q, err := responses.Open(src, h.snap, responses.WithShuffle(func([]string) {}))
	if err != nil {
		t.Fatalf("responses.Open error: %v", err)
	}
	h.queue = q
	return h
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
