package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"mcbridge/internal/domain"
)

// discordSession is the subset of *discordgo.Session the bridge calls.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Querier answers the slash commands.
type Querier interface {
	ListPlayers(ctx context.Context) (*domain.ListResponse, error)
	TPS(ctx context.Context) (*domain.TPSResponse, error)
}

// ChatForwarder relays channel messages to the game process.
type ChatForwarder interface {
	ForwardChat(ctx context.Context, author, text string) error
}

// DiscordOption configures the Discord channel.
type DiscordOption func(*DiscordChannel)

// WithDiscordQuerier serves /list and /tps through q.
func WithDiscordQuerier(q Querier) DiscordOption {
	return func(d *DiscordChannel) { d.querier = q }
}

// WithDiscordForwarder forwards bridge-channel messages through f.
func WithDiscordForwarder(f ChatForwarder) DiscordOption {
	return func(d *DiscordChannel) { d.forwarder = f }
}

// WithDiscordConnSource lets slash commands answer "not connected" without
// deferring.
func WithDiscordConnSource(conns domain.ConnSource) DiscordOption {
	return func(d *DiscordChannel) { d.conns = conns }
}

// DiscordChannel connects the bridge to one Discord text channel. It posts
// notifications there, forwards its messages to the game and serves the
// slash commands of its guild.
type DiscordChannel struct {
	guildID   string
	channelID string

	raw       *discordgo.Session
	session   discordSession
	querier   Querier
	forwarder ChatForwarder
	conns     domain.ConnSource // can be nil
	logger    *slog.Logger

	mu        sync.Mutex
	botUserID string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewDiscordChannel creates a Discord bot channel bound to guildID and
// channelID. No connection is made until Start.
func NewDiscordChannel(token, guildID, channelID string, logger *slog.Logger, opts ...DiscordOption) (*DiscordChannel, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	d := newDiscordChannel(dg, guildID, channelID, logger, opts...)
	d.raw = dg
	return d, nil
}

func newDiscordChannel(session discordSession, guildID, channelID string, logger *slog.Logger, opts ...DiscordOption) *DiscordChannel {
	d := &DiscordChannel{
		session:   session,
		guildID:   guildID,
		channelID: channelID,
		logger:    logger,
		ctx:       context.Background(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *DiscordChannel) Name() string { return "discord" }

// Session exposes the underlying discordgo session, e.g. for webhook calls.
func (d *DiscordChannel) Session() *discordgo.Session { return d.raw }

// Start opens the gateway connection. Slash commands are registered once
// the session is ready.
func (d *DiscordChannel) Start(ctx context.Context) error {
	if d.raw == nil {
		return errors.New("discord channel has no session")
	}
	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.raw.AddHandler(d.onReady)
	d.raw.AddHandler(d.onMessageCreate)
	d.raw.AddHandler(d.onInteractionCreate)

	if err := d.raw.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	if d.raw.State != nil && d.raw.State.User != nil {
		d.setBotUserID(d.raw.State.User.ID)
	}
	d.logger.Info("discord channel started", "user_id", d.getBotUserID(), "channel_id", d.channelID)
	return nil
}

func (d *DiscordChannel) Stop(_ context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
	if d.raw != nil {
		return d.raw.Close()
	}
	return nil
}

// Notify posts n as an embed to the bridge channel.
func (d *DiscordChannel) Notify(ctx context.Context, n domain.Notification) error {
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, toEmbed(n), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord notify: %w", err)
	}
	return nil
}

func (d *DiscordChannel) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	d.setBotUserID(r.User.ID)
	if err := d.registerCommands(d.context(), r.User.ID); err != nil {
		d.logger.Error("failed to register slash commands", "guild_id", d.guildID, "error", err)
		return
	}
	d.logger.Info("discord ready", "user", r.User.Username, "guild_id", d.guildID)
}

func (d *DiscordChannel) registerCommands(ctx context.Context, appID string) error {
	cmds, err := d.session.ApplicationCommandBulkOverwrite(appID, d.guildID, slashCommands(), discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	d.logger.Info("slash commands registered", "count", len(cmds))
	return nil
}

func (d *DiscordChannel) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	d.handleMessage(d.context(), m.Message)
}

func (d *DiscordChannel) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == d.getBotUserID() {
		return
	}
	if m.ChannelID != d.channelID {
		return
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}
	if m.Content == "" || d.forwarder == nil {
		return
	}
	if err := d.forwarder.ForwardChat(ctx, displayName(m), m.Content); err != nil {
		d.logger.Error("failed to forward chat message", "author", m.Author.ID, "code", domain.ErrorCodeOf(err), "error", err)
	}
}

func (d *DiscordChannel) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	d.handleInteraction(d.context(), i.Interaction)
}

// displayName prefers the guild nickname, then the global display name.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func (d *DiscordChannel) context() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

func (d *DiscordChannel) setBotUserID(id string) {
	d.mu.Lock()
	d.botUserID = id
	d.mu.Unlock()
}

func (d *DiscordChannel) getBotUserID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.botUserID
}

var _ domain.Notifier = (*DiscordChannel)(nil)
