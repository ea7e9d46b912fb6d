package channel

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

var slackMention = regexp.MustCompile(`<@[A-Z0-9]+>`)

// Slack answers app mentions and direct messages over Socket Mode.
type Slack struct {
	botToken string
	appToken string
	allow    allowList
	handler  *BotHandler
	client   *slack.Client
	socket   *socketmode.Client
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to self
	wg       sync.WaitGroup
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken  string
	AppToken  string
	AllowFrom []string // Slack user ids
	Handler   *BotHandler
	Logger    *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		allow:    newAllowList(cfg.AllowFrom),
		handler:  cfg.Handler,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and answers events until ctx is cancelled.
func (s *Slack) Start(ctx context.Context) error {
	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(ctx, eventsAPIEvent)

			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleSlashCommand(ctx, cmd)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		s.wg.Wait()
		return nil
	case err := <-errCh:
		s.wg.Wait()
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Mentions in channels arrive as AppMentionEvent; only DMs here.
		if ev.ChannelType != "im" || ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return
		}
		s.logger.Info("slack message received",
			"user", ev.User,
			"channel", ev.Channel,
			"content_len", len(ev.Text),
		)
		s.answer(ctx, ev.Channel, ev.User, ev.Text)

	case *slackevents.AppMentionEvent:
		if ev.User == s.botUID {
			return
		}
		s.logger.Info("slack mention received",
			"user", ev.User,
			"channel", ev.Channel,
		)
		s.answer(ctx, ev.Channel, ev.User, stripSlackMentions(ev.Text))
	}
}

// handleSlashCommand treats "/docbot <question>" like a message in the
// invoking channel.
func (s *Slack) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	s.logger.Info("slack slash command",
		"command", cmd.Command,
		"user", cmd.UserID,
		"channel", cmd.ChannelID,
	)
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		text = "/help"
	}
	s.answer(ctx, cmd.ChannelID, cmd.UserID, text)
}

func (s *Slack) answer(ctx context.Context, channelID, userID, text string) {
	if !s.allow.allowed(userID) {
		s.logger.Warn("unauthorized slack user", "user", userID)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if reply := s.handler.Reply(ctx, s.Name(), channelID, text); reply != "" {
			s.sendMessage(channelID, reply)
		}
	}()
}

func (s *Slack) sendMessage(channelID, content string) {
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		_, _, err := s.client.PostMessage(
			channelID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionAsUser(true),
		)
		if err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
		}
	}
}

func stripSlackMentions(text string) string {
	return strings.TrimSpace(slackMention.ReplaceAllString(text, ""))
}
