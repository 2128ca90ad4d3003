package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Candidate is a post fetched from a search and evaluated for a reply.
type Candidate struct {
	ID        string // fullname, e.g. t3_abc123
	Author    string
	CreatedAt time.Time
	Title     string
	Container string // subreddit fullname, e.g. t5_2qh1i
	Subreddit string // display name, for logs
	Permalink string
}

// ReplyRef identifies a comment the bot has posted.
type ReplyRef struct {
	ID        string // fullname, e.g. t1_def456
	Permalink string
}

type Message struct {
	ID       string // fullname, e.g. t4_xyz
	Author   string
	Subject  string
	Body     string
	IsUnread bool
}

type Comment struct {
	ID           string
	Author       string
	ParentPostID string
	Permalink    string
}

type Post struct {
	ID        string
	Author    string
	Title     string
	Permalink string
}

// PastReply is one of the bot's own recent comments, used to rebuild the
// cooldown registry after a restart.
type PastReply struct {
	ParentAuthor string
	CreatedAt    time.Time
}

// Platform is the content-platform surface the bot consumes.
type Platform interface {
	Search(ctx context.Context, container, pattern string, newestFirst bool) ([]Candidate, error)
	Reply(ctx context.Context, candidateID, text string) (ReplyRef, error)
	Edit(ctx context.Context, replyID, text string) error
	Inbox(ctx context.Context) ([]Message, error)
	MarkRead(ctx context.Context, messageID string) error
	SendMessage(ctx context.Context, to, subject, body string) error
	Comment(ctx context.Context, id string) (Comment, error)
	Post(ctx context.Context, id string) (Post, error)
	DeleteComment(ctx context.Context, id string) error
	Me(ctx context.Context) (string, error)
	RecentReplies(ctx context.Context) ([]PastReply, error)
}

var (
	// ErrPermissionDenied means the bot may not act in the target container.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound means the referenced thing does not exist or was deleted.
	ErrNotFound = errors.New("not found")
)

// Error is a transient upstream failure: network, rate limiting, outage.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsForbidden reports whether err carries a permission-denial signal.
func IsForbidden(err error) bool { return errors.Is(err, ErrPermissionDenied) }

// IsNotFound reports whether err carries a not-found signal.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
