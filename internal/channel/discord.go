package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord answers messages that mention the bot or arrive by DM, plus the
// /ask and /menu slash commands.
type Discord struct {
	token   string
	guildID string
	allow   allowList
	handler *BotHandler
	session *discordgo.Session
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token     string
	GuildID   string // optional: restrict to one guild and register commands there
	AllowFrom []string
	Handler   *BotHandler
	Logger    *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		allow:   newAllowList(cfg.AllowFrom),
		handler: cfg.Handler,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord and answers until ctx is cancelled.
func (d *Discord) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(ctx, s, m)
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		d.handleInteraction(ctx, s, i)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	d.registerSlashCommands()

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	d.wg.Wait()
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) handleMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}
	isDM := m.GuildID == ""
	if !isDM && !mentions(m.Mentions, s.State.User.ID) {
		return
	}
	if !d.allow.allowed(m.Author.ID) {
		d.logger.Warn("unauthorized discord user", "author", m.Author.ID)
		return
	}

	text := stripDiscordMention(m.Content, s.State.User.ID)
	d.logger.Info("discord message received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"content_len", len(text),
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = s.ChannelTyping(m.ChannelID)
		if reply := d.handler.Reply(ctx, d.Name(), m.ChannelID, text); reply != "" {
			d.sendMessage(m.ChannelID, reply)
		}
	}()
}

func (d *Discord) handleInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	var text string
	switch data.Name {
	case "ask":
		for _, opt := range data.Options {
			if opt.Name == "question" {
				text = opt.StringValue()
			}
		}
	case "menu":
		text = "/menu"
	default:
		return
	}

	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	} else if i.User != nil {
		userID = i.User.ID
	}
	if !d.allow.allowed(userID) {
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: "You are not allowed to ask questions here."},
		})
		return
	}

	// Answers can take longer than the interaction deadline.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		d.logger.Error("discord interaction ack failed", "err", err)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		reply := d.handler.Reply(ctx, d.Name(), i.ChannelID, text)
		if reply == "" {
			reply = "No answer."
		}
		chunks := splitMessage(reply, discordMaxMsgLen)
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &chunks[0]}); err != nil {
			d.logger.Error("discord interaction edit failed", "err", err)
			return
		}
		for _, chunk := range chunks[1:] {
			if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: chunk}); err != nil {
				d.logger.Error("discord followup failed", "err", err)
				return
			}
		}
	}()
}

func (d *Discord) sendMessage(channelID, content string) {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "err", err)
		}
	}
}

func (d *Discord) registerSlashCommands() {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "ask",
			Description: "Ask a question about the knowledge base",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "question",
					Description: "Your question",
					Required:    true,
				},
			},
		},
		{
			Name:        "menu",
			Description: "List the topics the knowledge base covers",
		},
	}

	guildID := d.guildID // empty = global commands
	for _, cmd := range commands {
		_, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, guildID, cmd)
		if err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}

func mentions(users []*discordgo.User, id string) bool {
	for _, u := range users {
		if u != nil && u.ID == id {
			return true
		}
	}
	return false
}

func stripDiscordMention(content, botID string) string {
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	return strings.TrimSpace(content)
}
