package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	slackapi "github.com/slack-go/slack"
)

// poster abstracts the webhook call, enabling test mocks.
type poster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Slack posts digests to an incoming webhook.
type Slack struct {
	url         string
	post        poster
	baseBackoff time.Duration
}

// SlackOpts holds parameters for creating a Slack notifier.
type SlackOpts struct {
	WebhookURL string
	// For testing: replaces the webhook call.
	Post func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.WebhookURL == "" {
		return nil, fmt.Errorf("notify: slack webhook url is required")
	}
	s := &Slack{url: opts.WebhookURL, post: slackapi.PostWebhookContext, baseBackoff: baseBackoff}
	if opts.Post != nil {
		s.post = opts.Post
	}
	return s, nil
}

// Name returns "slack".
func (s *Slack) Name() string { return "slack" }

// Notify posts d as a message with one attachment.
func (s *Slack) Notify(ctx context.Context, d Digest) error {
	msg := buildWebhookMessage(FormatDigest(d))
	for attempt := 0; ; attempt++ {
		err := s.post(ctx, s.url, msg)
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return fmt.Errorf("notify: slack: %w", err)
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = backoff(s.baseBackoff, attempt)
		}
		log.Printf("notify: slack rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func buildWebhookMessage(f Formatted) *slackapi.WebhookMessage {
	att := slackapi.Attachment{
		Title: f.Title,
		Text:  f.Body,
		Color: f.Color,
	}
	for _, fl := range f.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: fl.Name,
			Value: fl.Value,
			Short: fl.Short,
		})
	}
	return &slackapi.WebhookMessage{
		Text:        f.Title,
		Attachments: []slackapi.Attachment{att},
	}
}
