package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo.Session methods we use, enabling
// test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts digests to a channel through the REST API. No gateway
// connection is opened.
type Discord struct {
	token       string
	channelID   string
	baseBackoff time.Duration

	mu   sync.Mutex
	sess discordSession
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord channel is required")
	}
	return &Discord{
		token:       opts.BotToken,
		channelID:   opts.ChannelID,
		baseBackoff: baseBackoff,
		sess:        opts.Session,
	}, nil
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Notify posts dg as an embed.
func (d *Discord) Notify(ctx context.Context, dg Digest) error {
	sess, err := d.session()
	if err != nil {
		return err
	}
	embed := digestEmbed(FormatDigest(dg))
	for attempt := 0; ; attempt++ {
		_, err := sess.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx))
		if err == nil {
			return nil
		}
		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return fmt.Errorf("notify: discord: %w", err)
		}
		wait := backoff(d.baseBackoff, attempt)
		log.Printf("notify: discord rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (d *Discord) session() (discordSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess != nil {
		return d.sess, nil
	}
	s, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord: %w", err)
	}
	d.sess = s
	return s, nil
}

func digestEmbed(f Formatted) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       f.Title,
		Description: f.Body,
		Color:       parseHexColor(f.Color),
	}
	for _, fl := range f.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fl.Name,
			Value:  fl.Value,
			Inline: fl.Short,
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}
