package bot

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/stellarlinkco/chickenbot/internal/bus"
	"github.com/stellarlinkco/chickenbot/internal/platform"
	"github.com/stellarlinkco/chickenbot/internal/responses"
)

const (
	replyHeader = ">Why did the chicken cross the road?\n\n"
	replyFooter = "\n\n---\n\n^(This is an automatic comment made by a bot, who has answered so far to %d doubts concerning gallinaceous roadgoing birds.)"

	// lineBreakToken in a response template becomes a paragraph break.
	lineBreakToken = `\n`

	// RemovalSubject is the subject prefilled in the removal link.
	RemovalSubject = "Removal request"
	composeURL     = "https://www.reddit.com/message/compose/"
)

type Outcome int

const (
	Replied Outcome = iota
	Forbidden
	PlatformError
)

func (o Outcome) String() string {
	switch o {
	case Replied:
		return "replied"
	case Forbidden:
		return "forbidden"
	case PlatformError:
		return "platform error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Dispatcher posts replies to eligible candidates.
type Dispatcher struct {
	env      *Env
	queue    *responses.Queue
	counters *Counters
}

func NewDispatcher(env *Env, queue *responses.Queue, counters *Counters) *Dispatcher {
	return &Dispatcher{env: env, queue: queue, counters: counters}
}

func (d *Dispatcher) Counters() *Counters { return d.counters }

// Dispatch replies to c once. Failures are recorded, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, c platform.Candidate) Outcome {
	response, err := d.queue.Take()
	if err != nil {
		d.env.failure("dispatch", "take response for "+c.Permalink, err)
		return PlatformError
	}
	text := ComposeReply(response, d.counters.Total()+1)

	cctx, cancel := d.env.call(ctx)
	ref, err := d.env.Platform.Reply(cctx, c.ID, text)
	cancel()

	now := d.env.now()
	switch {
	case err == nil:
	case platform.IsForbidden(err):
		log.Printf("[dispatch] forbidden: u/%s %s: %v", c.Author, c.Permalink, err)
		if jerr := d.env.Journal.Incident(now, c.Author, c.Permalink, err.Error()); jerr != nil {
			log.Printf("[dispatch] write forbidden log failed: %v", jerr)
		}
		d.env.publish(bus.EventForbidden, c.Author, c.Permalink, err.Error())
		return Forbidden
	default:
		id := d.env.failure("dispatch", "reply to "+c.Permalink, err)
		if jerr := d.env.Journal.Incident(now, c.Author, c.Permalink, "incident "+id+": "+err.Error()); jerr != nil {
			log.Printf("[dispatch] write error log failed: %v", jerr)
		}
		d.env.publish(bus.EventFailed, c.Author, c.Permalink, "incident "+id)
		return PlatformError
	}

	d.counters.add()
	d.env.Registry.MarkReplied(c.Author, now)
	if jerr := d.env.Journal.Replied(now, c.Author, ref.Permalink); jerr != nil {
		log.Printf("[dispatch] write reply log failed: %v", jerr)
	}
	log.Printf("[dispatch] replied to u/%s: %s (total %d, session %d)",
		c.Author, ref.Permalink, d.counters.Total(), d.counters.Session())

	if d.env.BotName != "" {
		cctx, cancel := d.env.call(ctx)
		err := d.env.Platform.Edit(cctx, ref.ID, text+RemovalLink(d.env.BotName, ref.Permalink))
		cancel()
		if err != nil {
			log.Printf("[dispatch] warning: add removal link to %s: %v", ref.Permalink, err)
		}
	}
	d.env.publish(bus.EventReplied, c.Author, ref.Permalink, "")
	return Replied
}

// ComposeReply builds the full reply body around a response template.
// ordinal is the number this reply will have once posted.
func ComposeReply(response string, ordinal int) string {
	body := strings.ReplaceAll(response, lineBreakToken, "\n\n")
	return replyHeader + body + fmt.Sprintf(replyFooter, ordinal)
}

// RemovalLink returns the markdown suffix that lets the post author ask for
// the reply to be deleted.
func RemovalLink(botName, replyPermalink string) string {
	q := url.Values{
		"to":      {botName},
		"subject": {RemovalSubject},
		"message": {"remove " + replyPermalink},
	}
	return fmt.Sprintf(" ^([Remove reply](%s?%s))", composeURL, q.Encode())
}
