// Package notify posts batch search digests to chat destinations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/jobscout/internal/config"
	"github.com/zulandar/jobscout/internal/worker"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial wait after a rate-limited call.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
	// digestEntries caps the entries listed in one digest.
	digestEntries = 5
)

// Digest summarizes one batch search run.
type Digest struct {
	OwnerID    string
	RunID      uint
	Trigger    string
	Candidates []worker.Candidate
	At         time.Time
}

// Field is a labelled value in a formatted digest.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Formatted is a digest rendered for chat destinations.
type Formatted struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Notifier delivers digests.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, d Digest) error
}

// FormatDigest renders d. The top entries become fields.
func FormatDigest(d Digest) Formatted {
	f := Formatted{
		Title: fmt.Sprintf("%d new job matches", len(d.Candidates)),
		Color: "#36a64f",
	}
	if len(d.Candidates) == 1 {
		f.Title = "1 new job match"
	}
	if len(d.Candidates) == 0 {
		f.Title = "No new job matches"
		f.Color = "#999999"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search run #%d (%s)", d.RunID, d.Trigger)
	if !d.At.IsZero() {
		fmt.Fprintf(&sb, " at %s", d.At.UTC().Format("2006-01-02 15:04 MST"))
	}
	if n := len(d.Candidates) - digestEntries; n > 0 {
		fmt.Fprintf(&sb, "\n+%d more in the app", n)
	}
	f.Body = sb.String()

	for i, c := range d.Candidates {
		if i == digestEntries {
			break
		}
		name := c.Title
		if c.Org != "" {
			name += " at " + c.Org
		}
		value := fmt.Sprintf("Score %d", c.Score)
		if c.Reason != "" {
			value += " · " + c.Reason
		}
		if c.Locator != "" {
			value += "\n" + c.Locator
		}
		f.Fields = append(f.Fields, Field{Name: name, Value: value})
	}
	return f
}

// Multi fans a digest out to several notifiers. Every notifier is tried;
// failures are joined.
type Multi []Notifier

// Name returns the member names.
func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, n := range m {
		names[i] = n.Name()
	}
	return strings.Join(names, ",")
}

// Notify sends d to every member.
func (m Multi) Notify(ctx context.Context, d Digest) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("notify: %s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifiers the configuration enables. It returns
// nil when none are configured.
func FromConfig(cfg config.NotifyConfig) (Notifier, error) {
	var m Multi
	if cfg.SlackWebhook != "" {
		s, err := NewSlack(SlackOpts{WebhookURL: cfg.SlackWebhook})
		if err != nil {
			return nil, err
		}
		m = append(m, s)
	}
	if cfg.DiscordToken != "" {
		d, err := NewDiscord(DiscordOpts{BotToken: cfg.DiscordToken, ChannelID: cfg.DiscordChannel})
		if err != nil {
			return nil, err
		}
		m = append(m, d)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// backoff returns the wait before retry attempt (0-based).
func backoff(base time.Duration, attempt int) time.Duration {
	wait := base << attempt
	if wait > maxBackoff || wait <= 0 {
		wait = maxBackoff
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
