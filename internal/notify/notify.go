// Package notify tells users about newly matched feed items.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/steveyegge/pubhub/internal/logger"
	"github.com/steveyegge/pubhub/internal/types"
)

// Notifier announces new matches for a project
type Notifier interface {
	NotifyMatches(ctx context.Context, project *types.Project, items []*types.FeedItem) error
}

// Nop discards every notification
type Nop struct{}

// NotifyMatches implements Notifier
func (Nop) NotifyMatches(context.Context, *types.Project, []*types.FeedItem) error { return nil }

// Embed colors
const (
	ColorMatch     = 0x00ff00 // green
	ColorHighMatch = 0xffaa00 // orange, at least HighRelevance
)

// HighRelevance is the score from which a match is highlighted
const HighRelevance = 30

// maxEmbedFields is Discord's per-embed field limit
const maxEmbedFields = 25

// maxFieldValue is Discord's per-field value limit
const maxFieldValue = 1024

// sendFunc executes a webhook
type sendFunc func(webhookID, token string, params *discordgo.WebhookParams) error

// DiscordNotifier posts a match summary to a Discord webhook
type DiscordNotifier struct {
	webhookID string
	token     string
	send      sendFunc
	log       *zap.SugaredLogger
}

// ParseWebhookURL extracts the id and token from
// https://discord.com/api/webhooks/{id}/{token}
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url %q has no /webhooks/{id}/{token} path", raw)
}

// NewDiscordNotifier creates a notifier for a webhook URL
func NewDiscordNotifier(webhookURL string, log *zap.SugaredLogger) (*DiscordNotifier, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	// Webhooks need no bot token
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if log == nil {
		log = logger.Get("notify")
	}
	return &DiscordNotifier{
		webhookID: id,
		token:     token,
		send: func(webhookID, token string, params *discordgo.WebhookParams) error {
			_, err := session.WebhookExecute(webhookID, token, false, params)
			return err
		},
		log: log,
	}, nil
}

// NotifyMatches implements Notifier
func (n *DiscordNotifier) NotifyMatches(ctx context.Context, project *types.Project, items []*types.FeedItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &discordgo.WebhookParams{
		Username: "PubHub",
		Content:  fmt.Sprintf("%d new match(es) for **%s**", len(items), project.Name),
		Embeds:   []*discordgo.MessageEmbed{BuildEmbed(project, items)},
	}
	if err := n.send(n.webhookID, n.token, params); err != nil {
		return fmt.Errorf("failed to execute discord webhook: %w", err)
	}
	n.log.Debugw("match notification sent", "project_id", project.ID, "items", len(items))
	return nil
}

// BuildEmbed summarizes items, one field per item up to Discord's limit
func BuildEmbed(project *types.Project, items []*types.FeedItem) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("New matches: %s", project.Name),
		Color:     ColorMatch,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	for i, item := range items {
		if item.RelevanceScore >= HighRelevance {
			embed.Color = ColorHighMatch
		}
		if i == maxEmbedFields-1 && len(items) > maxEmbedFields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "More",
				Value: fmt.Sprintf("and %d more", len(items)-i),
			})
			break
		}
		title := item.Title
		if title == "" {
			title = item.ExternalID
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("r/%s · score %d", item.Forum, item.RelevanceScore),
			Value: fieldValue(title, item.URL),
		})
	}
	return embed
}

func fieldValue(title, link string) string {
	v := title
	if link != "" {
		v = fmt.Sprintf("[%s](%s)", title, link)
	}
	if len(v) > maxFieldValue {
		v = v[:maxFieldValue-3] + "..."
	}
	return v
}
