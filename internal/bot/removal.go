package bot

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/stellarlinkco/chickenbot/internal/bus"
	"github.com/stellarlinkco/chickenbot/internal/platform"
)

const deletedAuthor = "[deleted]"

var removalPattern = regexp.MustCompile(`(?i)remove\s+/r/(\w+)/comments/(\w+)/[^/\s]*/(\w+)`)

const (
	msgRemoved  = "Done! The bot's reply on your post has been deleted:\n\n%s"
	msgNotFound = "Sorry, the comment in your removal request could not be found. It may have been deleted already."
	msgNotBot   = "Sorry, the removal was refused: the bot can only delete its own comments."
	msgNotOwner = "Sorry, the removal was refused: only the author of the original post (u/%s) can request the removal of the bot's reply."
)

// RemovalRequest is what a removal message resolves to.
type RemovalRequest struct {
	Requester     string
	CommentID     string
	PostAuthor    string
	CommentAuthor string
	Permalink     string
}

// ParseRemoval extracts the target comment ID from a message body.
func ParseRemoval(body string) (commentID string, ok bool) {
	m := removalPattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[3], true
}

// looksLikeRemoval reports whether a subject reads like a removal request.
func looksLikeRemoval(subject string) bool {
	s := strings.ToLower(subject)
	return strings.Contains(s, "remov") || strings.Contains(s, "delet")
}

// RemovalHandler processes removal requests from the bot's inbox.
type RemovalHandler struct {
	env *Env
}

func NewRemovalHandler(env *Env) *RemovalHandler {
	return &RemovalHandler{env: env}
}

// Cycle handles every unread inbox message once. It returns how many
// messages were processed without error.
func (h *RemovalHandler) Cycle(ctx context.Context) (handled int) {
	defer h.env.recoverCycle("removal")

	cctx, cancel := h.env.call(ctx)
	msgs, err := h.env.Platform.Inbox(cctx)
	cancel()
	if err != nil {
		h.env.failure("removal", "fetch inbox", err)
		return 0
	}

	for _, m := range msgs {
		if !m.IsUnread {
			continue
		}
		if err := h.Handle(ctx, m); err != nil {
			h.env.failure("removal", fmt.Sprintf("message %s from u/%s", m.ID, m.Author), err)
			continue
		}
		handled++
	}
	return handled
}

// Handle processes one unread message. The message is marked read before
// anything else; if that fails it is left for the next cycle.
func (h *RemovalHandler) Handle(ctx context.Context, m platform.Message) error {
	if err := h.callErr(ctx, func(c context.Context) error { return h.env.Platform.MarkRead(c, m.ID) }); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	commentID, ok := ParseRemoval(m.Body)
	if !ok {
		return nil
	}

	req, err := h.resolve(ctx, m.Author, commentID)
	if platform.IsNotFound(err) {
		if !looksLikeRemoval(m.Subject) {
			return nil
		}
		log.Printf("[removal] u/%s asked to remove %s: not found", m.Author, commentID)
		return h.reply(ctx, m, msgNotFound)
	}
	if err != nil {
		return err
	}

	switch {
	case !strings.EqualFold(req.Requester, req.PostAuthor):
		log.Printf("[removal] refused u/%s for %s: post author is u/%s", req.Requester, req.CommentID, req.PostAuthor)
		h.env.publish(bus.EventRefused, req.Requester, req.Permalink, "not the post author")
		return h.reply(ctx, m, fmt.Sprintf(msgNotOwner, req.PostAuthor))

	case !strings.EqualFold(req.CommentAuthor, h.env.BotName):
		log.Printf("[removal] refused u/%s for %s: comment belongs to u/%s", req.Requester, req.CommentID, req.CommentAuthor)
		h.env.publish(bus.EventRefused, req.Requester, req.Permalink, "not a bot comment")
		return h.reply(ctx, m, msgNotBot)
	}

	if err := h.callErr(ctx, func(c context.Context) error { return h.env.Platform.DeleteComment(c, req.CommentID) }); err != nil {
		return fmt.Errorf("delete %s: %w", req.CommentID, err)
	}
	h.env.Registry.MarkReplied(req.PostAuthor, h.env.now())
	log.Printf("[removal] deleted %s at the request of u/%s", req.Permalink, req.Requester)
	h.env.publish(bus.EventRemoved, req.Requester, req.Permalink, "")
	return h.reply(ctx, m, fmt.Sprintf(msgRemoved, req.Permalink))
}

func (h *RemovalHandler) resolve(ctx context.Context, requester, commentID string) (RemovalRequest, error) {
	cctx, cancel := h.env.call(ctx)
	comment, err := h.env.Platform.Comment(cctx, commentID)
	cancel()
	if err != nil {
		return RemovalRequest{}, fmt.Errorf("fetch comment: %w", err)
	}
	if isDeleted(comment.Author) {
		return RemovalRequest{}, fmt.Errorf("comment %s was deleted: %w", commentID, platform.ErrNotFound)
	}

	cctx, cancel = h.env.call(ctx)
	post, err := h.env.Platform.Post(cctx, comment.ParentPostID)
	cancel()
	if err != nil {
		return RemovalRequest{}, fmt.Errorf("fetch post: %w", err)
	}
	if isDeleted(post.Author) {
		return RemovalRequest{}, fmt.Errorf("post %s was deleted: %w", comment.ParentPostID, platform.ErrNotFound)
	}

	if comment.ID != "" {
		commentID = comment.ID
	}
	return RemovalRequest{
		Requester:     requester,
		CommentID:     commentID,
		PostAuthor:    post.Author,
		CommentAuthor: comment.Author,
		Permalink:     comment.Permalink,
	}, nil
}

// isDeleted reports whether author is the placeholder Reddit keeps on
// deleted things.
func isDeleted(author string) bool {
	return author == "" || author == deletedAuthor
}

func (h *RemovalHandler) reply(ctx context.Context, m platform.Message, body string) error {
	subject := "Re: " + m.Subject
	if strings.TrimSpace(m.Subject) == "" {
		subject = RemovalSubject
	}
	return h.callErr(ctx, func(c context.Context) error {
		return h.env.Platform.SendMessage(c, m.Author, subject, body)
	})
}

func (h *RemovalHandler) callErr(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := h.env.call(ctx)
	defer cancel()
	return fn(cctx)
}
