package responses

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
)

// ErrEmptyCorpus is returned when the response source yields no usable lines.
var ErrEmptyCorpus = errors.New("response corpus is empty")

// Snapshotter persists the remaining queue. SaveQueue must replace the
// previous snapshot atomically.
type Snapshotter interface {
	SaveQueue(items []string) error
	LoadQueue() ([]string, error)
}

// Source loads the full response corpus.
type Source func() ([]string, error)

// FileSource reads one response per line from path, skipping blank lines.
func FileSource(path string) Source {
	return func() ([]string, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open responses: %w", err)
		}
		defer f.Close()

		var lines []string
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line != "" {
				lines = append(lines, line)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read responses: %w", err)
		}
		return lines, nil
	}
}

// Queue serves responses in a shuffled order without repeating any of them
// until the whole corpus has been served. Items are taken from the end of
// the slice; the snapshot is written before a taken item is returned.
type Queue struct {
	mu      sync.Mutex
	items   []string
	source  Source
	snap    Snapshotter
	shuffle func([]string)
}

type Option func(*Queue)

// WithShuffle replaces the random shuffle, for deterministic tests.
func WithShuffle(fn func([]string)) Option {
	return func(q *Queue) { q.shuffle = fn }
}

// Open restores the queue from snap, or refills it from source when no
// snapshot remains.
func Open(source Source, snap Snapshotter, opts ...Option) (*Queue, error) {
	q := &Queue{
		source: source,
		snap:   snap,
		shuffle: func(items []string) {
			rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		},
	}
	for _, opt := range opts {
		opt(q)
	}

	saved, err := snap.LoadQueue()
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}
	if len(saved) > 0 {
		q.items = saved
		return q, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.refillLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

// Refill discards the current state, reloads and reshuffles the corpus and
// persists the result.
func (q *Queue) Refill() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.refillLocked()
}

func (q *Queue) refillLocked() error {
	corpus, err := q.source()
	if err != nil {
		return err
	}
	if len(corpus) == 0 {
		return ErrEmptyCorpus
	}
	items := make([]string, len(corpus))
	copy(items, corpus)
	q.shuffle(items)

	if err := q.snap.SaveQueue(items); err != nil {
		return fmt.Errorf("save queue snapshot: %w", err)
	}
	q.items = items
	return nil
}

// Take removes and returns the next response, refilling first when empty.
// If the snapshot cannot be written the item stays in the queue.
func (q *Queue) Take() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if err := q.refillLocked(); err != nil {
			return "", fmt.Errorf("refill responses: %w", err)
		}
	}

	last := len(q.items) - 1
	text := q.items[last]
	if err := q.snap.SaveQueue(q.items[:last]); err != nil {
		return "", fmt.Errorf("save queue snapshot: %w", err)
	}
	q.items = q.items[:last]
	return text, nil
}

// Remaining returns a copy of the queue in serving order, next first.
func (q *Queue) Remaining() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ServingOrder(q.items)
}

// ServingOrder turns a stored queue into serving order, next first.
func ServingOrder(stored []string) []string {
	out := make([]string, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
