package channel

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"

	"mcbridge/internal/domain"
	"mcbridge/internal/usecase/relay"
)

// Slash command names.
const (
	CommandList = "list"
	CommandTPS  = "tps"
)

// Replies shown to the invoking user.
const (
	textNotConnected = "The game server is not connected."
	textTimedOut     = "The game server did not respond in time."
	textErrorPrefix  = "An error occurred: "
)

const maxContentLen = 2000

func slashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: CommandList, Description: "Show the players currently online."},
		{Name: CommandTPS, Description: "Show the server TPS per dimension."},
	}
}

// handleInteraction serves /list and /tps. The reply is deferred while the
// game process is queried, then completed with a followup.
func (d *DiscordChannel) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	if name != CommandList && name != CommandTPS {
		return
	}
	log := d.logger.With("command", name, "interaction_id", i.ID)

	if d.querier == nil || (d.conns != nil && !connected(d.conns)) {
		d.reply(ctx, i, textNotConnected)
		return
	}

	err := d.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}, discordgo.WithContext(ctx))
	if err != nil {
		log.Error("failed to defer interaction", "error", err)
		return
	}

	var n domain.Notification
	switch name {
	case CommandList:
		var resp *domain.ListResponse
		if resp, err = d.querier.ListPlayers(ctx); err == nil {
			n = relay.RenderPlayerList(resp)
		}
	case CommandTPS:
		var resp *domain.TPSResponse
		if resp, err = d.querier.TPS(ctx); err == nil {
			n = relay.RenderTPS(resp)
		}
	}

	params := &discordgo.WebhookParams{}
	if err != nil {
		log.Warn("command failed", "error", err)
		params.Content = errorText(err)
	} else {
		params.Embeds = []*discordgo.MessageEmbed{toEmbed(n)}
	}
	_, err = d.session.FollowupMessageCreate(i, true, params, discordgo.WithContext(ctx))
	if err == nil {
		return
	}
	log.Error("failed to send followup", "error", err)
	if params.Embeds == nil {
		return
	}
	fallback := &discordgo.WebhookParams{Content: fallbackText(err)}
	if _, err := d.session.FollowupMessageCreate(i, true, fallback, discordgo.WithContext(ctx)); err != nil {
		log.Error("failed to send fallback followup", "error", err)
	}
}

// fallbackText is sent in place of an embed Discord rejected.
func fallbackText(err error) string {
	s := textErrorPrefix + err.Error()
	if len(s) > maxContentLen {
		s = s[:maxContentLen]
	}
	return s
}

func (d *DiscordChannel) reply(ctx context.Context, i *discordgo.Interaction, content string) {
	err := d.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	}, discordgo.WithContext(ctx))
	if err != nil {
		d.logger.Error("failed to respond to interaction", "interaction_id", i.ID, "error", err)
	}
}

func connected(conns domain.ConnSource) bool {
	_, ok := conns.Get()
	return ok
}

// errorText maps a request error to the text shown to the user.
func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimedOut):
		return textTimedOut
	case errors.Is(err, domain.ErrUnavailable):
		return textNotConnected
	default:
		return textErrorPrefix + err.Error()
	}
}

func toEmbed(n domain.Notification) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		Color:       int(n.Color),
	}
	if n.AuthorName != "" {
		e.Author = &discordgo.MessageEmbedAuthor{Name: n.AuthorName, IconURL: n.AuthorIcon}
	}
	for _, f := range n.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return e
}
