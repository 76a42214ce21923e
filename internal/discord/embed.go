package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/forwhat-rbx/clannr-sub000/internal/promotion"
	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

const (
	colorPending = 0xF1C40F // yellow
	colorIdle    = 0x2ECC71 // green
	colorAudit   = 0x3498DB // blue

	// keeps the description well under Discord's 4096 character limit
	maxListedPromotions = 25
)

// PromotionEmbed renders the promotion status message
func PromotionEmbed(status promotion.Status) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Pending Promotions",
		Color: colorIdle,
	}

	switch {
	case status.CheckedAt.IsZero():
		embed.Description = "No promotion check has completed yet."
	case len(status.Pending) == 0:
		embed.Description = "No members are currently eligible for promotion."
	default:
		embed.Color = colorPending
		embed.Description = pendingList(status.Pending)
	}

	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("%d pending", len(status.Pending)),
	}
	if !status.CheckedAt.IsZero() {
		embed.Footer.Text += " | Last checked"
		embed.Timestamp = status.CheckedAt.UTC().Format(time.RFC3339)
	}
	return embed
}

func pendingList(pending []promotion.PendingPromotion) string {
	var sb strings.Builder
	for idx, p := range pending {
		if idx == maxListedPromotions {
			sb.WriteString(fmt.Sprintf("...and %d more", len(pending)-maxListedPromotions))
			break
		}
		sb.WriteString(fmt.Sprintf("**%s** (`%s`): %s → %s\n", p.Name, p.RobloxID, p.CurrentRank, p.NewRank))
	}
	return sb.String()
}

// PromotionComponents returns the execute and recheck buttons
func PromotionComponents(status promotion.Status) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    fmt.Sprintf("Promote %d", len(status.Pending)),
					Style:    discordgo.SuccessButton,
					CustomID: promotion.ButtonExecute,
					Disabled: len(status.Pending) == 0,
				},
				discordgo.Button{
					Label:    "Recheck",
					Style:    discordgo.SecondaryButton,
					CustomID: promotion.ButtonRecheck,
				},
			},
		},
	}
}

// AuditEmbed renders one audit entry for the audit channel
func AuditEmbed(e storage.AuditEntry) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Action", Value: e.Action, Inline: true},
		{Name: "Target", Value: orDash(e.TargetID), Inline: true},
	}
	if e.ActorID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "By", Value: fmt.Sprintf("<@%s>", e.ActorID), Inline: true})
	}

	return &discordgo.MessageEmbed{
		Title:       "Audit",
		Color:       colorAudit,
		Description: e.Detail,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: e.ID},
		Timestamp:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
