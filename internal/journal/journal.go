package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Paths names the three append-only files.
type Paths struct {
	Replies   string // one line per successful reply
	Incidents string // forbidden attempts and operational warnings
	Errors    string // diagnostic blocks
}

// Journal appends operator records. Each record is written with a single
// write on an O_APPEND descriptor and synced before returning, so a crash
// can at worst truncate the record being written.
type Journal struct {
	paths Paths
	mu    sync.Mutex
}

func Open(paths Paths) (*Journal, error) {
	for _, p := range []string{paths.Replies, paths.Incidents, paths.Errors} {
		if p == "" {
			return nil, fmt.Errorf("journal path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	return &Journal{paths: paths}, nil
}

func (j *Journal) Paths() Paths { return j.paths }

// Replied records a posted reply.
func (j *Journal) Replied(at time.Time, username, permalink string) error {
	return j.append(j.paths.Replies, fmt.Sprintf("%s\tu/%s\t%s\n", at.Format(timeLayout), username, permalink))
}

// Incident records a reply that could not be made, with the reason.
func (j *Journal) Incident(at time.Time, username, permalink, reason string) error {
	line := fmt.Sprintf("%s\tu/%s\t%s\t%s\n", at.Format(timeLayout), username, permalink, oneLine(reason))
	return j.append(j.paths.Incidents, line)
}

// Diagnostic records a failure with its full detail as a separated block.
func (j *Journal) Diagnostic(at time.Time, incidentID string, detail string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== %s incident %s ===\n", at.Format(timeLayout), incidentID)
	sb.WriteString(strings.TrimRight(detail, "\n"))
	sb.WriteString("\n\n")
	return j.append(j.paths.Errors, sb.String())
}

func (j *Journal) append(path, record string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(record); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// CountReplies returns the number of non-blank lines in the reply log.
// A missing log counts as zero.
func CountReplies(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
