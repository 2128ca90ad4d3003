package bot

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/stellarlinkco/chickenbot/internal/cooldown"
	"github.com/stellarlinkco/chickenbot/internal/platform"
)

// Blacklist is a set of container IDs the bot never replies in.
type Blacklist map[string]struct{}

// LoadBlacklist reads one container ID per line. A missing file is an
// empty blacklist.
func LoadBlacklist(path string) (Blacklist, error) {
	bl := Blacklist{}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return bl, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open blacklist: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			bl[id] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read blacklist: %w", err)
	}
	return bl, nil
}

func (b Blacklist) Contains(container string) bool {
	_, ok := b[container]
	return ok
}

// MatchesQuestion reports whether title contains question, ignoring case.
func MatchesQuestion(title, question string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(question))
}

// Filter decides whether a candidate should get a reply.
type Filter struct {
	Question  string
	Blacklist Blacklist
	Registry  *cooldown.Registry
}

// IsEligible applies the checks in order and stops at the first failure:
// not older than the watermark, title match, container not blacklisted,
// author not on cooldown.
func (f *Filter) IsEligible(c platform.Candidate, watermark, now time.Time) bool {
	if c.CreatedAt.Before(watermark) {
		return false
	}
	if !MatchesQuestion(c.Title, f.Question) {
		return false
	}
	if f.Blacklist.Contains(c.Container) {
		return false
	}
	return !f.Registry.IsOnCooldown(c.Author, now)
}
