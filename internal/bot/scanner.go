package bot

import (
	"context"
	"log"
	"sync"
	"time"
)

// WatermarkStore persists the scan watermark across restarts.
type WatermarkStore interface {
	SaveWatermark(t time.Time) error
}

// Scanner runs one search-filter-dispatch pass per cycle.
type Scanner struct {
	env        *Env
	filter     *Filter
	dispatcher *Dispatcher
	store      WatermarkStore
	subreddit  string

	mu        sync.Mutex
	watermark time.Time
	anchor    string
}

func NewScanner(env *Env, subreddit string, filter *Filter, dispatcher *Dispatcher, store WatermarkStore, watermark time.Time) *Scanner {
	return &Scanner{
		env:        env,
		filter:     filter,
		dispatcher: dispatcher,
		store:      store,
		subreddit:  subreddit,
		watermark:  watermark,
	}
}

func (s *Scanner) Watermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// Anchor is the newest post seen by the last successful fetch. It is only
// reported, never used as a cutoff.
func (s *Scanner) Anchor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor
}

// PrimeAnchor records the newest matching post before the first cycle.
func (s *Scanner) PrimeAnchor(ctx context.Context) error {
	cctx, cancel := s.env.call(ctx)
	defer cancel()
	found, err := s.env.Platform.Search(cctx, s.subreddit, s.filter.Question, true)
	if err != nil {
		return err
	}
	for _, c := range found {
		if MatchesQuestion(c.Title, s.filter.Question) {
			s.mu.Lock()
			s.anchor = c.ID
			s.mu.Unlock()
			break
		}
	}
	return nil
}

// Cycle fetches candidates and replies to the eligible ones. It returns the
// number of replies made. A fetch failure is recorded and ends the cycle
// with the watermark untouched.
func (s *Scanner) Cycle(ctx context.Context) (replied int) {
	defer s.env.recoverCycle("scanner")

	cctx, cancel := s.env.call(ctx)
	found, err := s.env.Platform.Search(cctx, s.subreddit, s.filter.Question, true)
	cancel()
	if err != nil {
		s.env.failure("scanner", "search r/"+s.subreddit, err)
		return 0
	}

	watermark := s.Watermark()
	for i, c := range found {
		if i == 0 {
			s.mu.Lock()
			s.anchor = c.ID
			s.mu.Unlock()
		}
		if !s.filter.IsEligible(c, watermark, s.env.now()) {
			continue
		}
		if s.dispatcher.Dispatch(ctx, c) == Replied {
			replied++
		}
	}

	if replied > 0 {
		s.advance(s.env.now())
	}
	log.Printf("[scanner] cycle done: %d candidates, %d replies", len(found), replied)
	return replied
}

// advance moves the watermark forward, never back.
func (s *Scanner) advance(t time.Time) {
	s.mu.Lock()
	if !t.After(s.watermark) {
		s.mu.Unlock()
		return
	}
	s.watermark = t
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	if err := s.store.SaveWatermark(t); err != nil {
		log.Printf("[scanner] warning: persist watermark: %v", err)
	}
}
