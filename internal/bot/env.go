package bot

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stellarlinkco/chickenbot/internal/bus"
	"github.com/stellarlinkco/chickenbot/internal/cooldown"
	"github.com/stellarlinkco/chickenbot/internal/journal"
	"github.com/stellarlinkco/chickenbot/internal/platform"
)

// Publisher receives operator events. *bus.MessageBus satisfies it.
type Publisher interface {
	Publish(ev bus.Event) bool
}

// Env bundles the collaborators shared by the scan and inbox workers.
type Env struct {
	Platform    platform.Platform
	Registry    *cooldown.Registry
	Journal     *journal.Journal
	Events      Publisher
	BotName     string
	CallTimeout time.Duration
	Now         func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// call bounds a single platform request.
func (e *Env) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.CallTimeout)
}

func (e *Env) publish(kind bus.EventKind, author, permalink, detail string) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(bus.Event{
		Kind:      kind,
		Author:    author,
		Permalink: permalink,
		Detail:    detail,
		Timestamp: e.now(),
	})
}

// failure logs a warning and writes the matching diagnostic block.
// The incident ID ties the two together.
func (e *Env) failure(component, what string, err error) string {
	id := uuid.NewString()
	log.Printf("[%s] warning: %s: %v (incident %s)", component, what, err, id)
	if e.Journal != nil {
		detail := fmt.Sprintf("%s: %s\nerror: %v\n\n%s", component, what, err, debug.Stack())
		if jerr := e.Journal.Diagnostic(e.now(), id, detail); jerr != nil {
			log.Printf("[%s] write diagnostic failed: %v", component, jerr)
		}
	}
	return id
}

// recoverCycle turns a panic inside a worker cycle into a diagnostic entry.
// Must be deferred directly.
func (e *Env) recoverCycle(component string) {
	r := recover()
	if r == nil {
		return
	}
	e.failure(component, "cycle panicked", fmt.Errorf("%v", r))
}

// Counters tracks total replies ever made and replies made by this process.
type Counters struct {
	total   atomic.Int64
	session atomic.Int64
}

func NewCounters(start int) *Counters {
	c := &Counters{}
	c.total.Store(int64(start))
	return c
}

func (c *Counters) Total() int   { return int(c.total.Load()) }
func (c *Counters) Session() int { return int(c.session.Load()) }

func (c *Counters) add() {
	c.total.Add(1)
	c.session.Add(1)
}
