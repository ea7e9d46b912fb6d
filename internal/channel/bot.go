package channel

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"docbot/internal/answer"
	"docbot/internal/domain"
)

const (
	defaultMenuLimit = 15

	botHelpText = "Ask me anything about the knowledge base.\n\nCommands:\n/menu: list the topics I know about\n/help: show this message"
	botNotReady = "The knowledge base is not ready yet. Please try again after it has been indexed."
	botEmpty    = "The knowledge base is empty."
)

// Answerer is the slice of the answer pipeline that chat surfaces use.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request, out chan<- domain.StreamEvent) (*answer.Result, error)
	Collect(ctx context.Context, req answer.Request) (*answer.Result, error)
	GeneratorName() string
}

// TopicSource lists the corpus topics for the menu.
type TopicSource interface {
	Topics(limit int) ([]string, error)
}

// BotHandler turns one chat message into one reply. Telegram, Slack and
// Discord share it so they answer identically.
type BotHandler struct {
	answerer Answerer
	topics   TopicSource
	k        int
	logger   *slog.Logger
}

type BotHandlerConfig struct {
	Answerer Answerer
	Topics   TopicSource
	K        int // retrieval depth; 0 uses the assembler default
	Logger   *slog.Logger
}

func NewBotHandler(cfg BotHandlerConfig) *BotHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BotHandler{answerer: cfg.Answerer, topics: cfg.Topics, k: cfg.K, logger: cfg.Logger}
}

// Reply answers text sent by chatID on channel. An empty reply means
// nothing should be sent.
func (h *BotHandler) Reply(ctx context.Context, channel, chatID, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	switch cmd := commandName(text); cmd {
	case "menu":
		return h.menu()
	case "start", "help":
		return botHelpText
	case "":
	default:
		return "Unknown command. Type /help for available commands."
	}

	res, err := h.answerer.Collect(ctx, answer.Request{
		Query:     text,
		K:         h.k,
		SessionID: channel + ":" + chatID,
	})
	switch {
	case err == nil:
		return res.Answer
	case errors.Is(err, domain.ErrIndexNotReady):
		return botNotReady
	case errors.Is(err, context.Canceled):
		return ""
	default:
		h.logger.Error("bot answer failed", "channel", channel, "chat_id", chatID, "err", err)
		return "Sorry, something went wrong while answering."
	}
}

func (h *BotHandler) menu() string {
	if h.topics == nil {
		return botEmpty
	}
	topics, err := h.topics.Topics(defaultMenuLimit)
	if err != nil || len(topics) == 0 {
		if err != nil && !errors.Is(err, domain.ErrNoCorpus) {
			h.logger.Warn("menu failed", "err", err)
		}
		return botEmpty
	}
	var sb strings.Builder
	sb.WriteString("Here are some topics I can help with:")
	for _, t := range topics {
		sb.WriteString("\n• ")
		sb.WriteString(t)
	}
	return sb.String()
}

// commandName returns the command in text ("/menu@bot" gives "menu"), the
// bare word "menu", or "" for ordinary messages.
func commandName(text string) string {
	if strings.EqualFold(text, "menu") {
		return "menu"
	}
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text[1:])
	if len(cmd) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(cmd[0], "@")
	return strings.ToLower(name)
}

// allowList restricts senders by id. An empty list allows everyone.
type allowList map[string]struct{}

func newAllowList(ids []string) allowList {
	a := make(allowList, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a[id] = struct{}{}
		}
	}
	return a
}

func (a allowList) allowed(id string) bool {
	if len(a) == 0 {
		return true
	}
	_, ok := a[id]
	return ok
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
