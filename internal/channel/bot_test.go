package channel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docbot/internal/answer"
	"docbot/internal/domain"
	"docbot/internal/provider"
)

type stubTopics struct {
	topics []string
	err    error
}

func (s stubTopics) Topics(int) ([]string, error) { return s.topics, s.err }

func newTestBot(t *testing.T, r answer.Retriever, topics TopicSource) *BotHandler {
	t.Helper()
	asm, err := answer.New(answer.Config{
		Retriever: r,
		Generator: provider.NewExtractive(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewBotHandler(BotHandlerConfig{Answerer: asm, Topics: topics, Logger: testLogger()})
}

func TestBotReply_Answers(t *testing.T) {
	bot := newTestBot(t, &stubRetriever{results: sampleResults}, nil)
	got := bot.Reply(context.Background(), "telegram", "42", "how do refunds work?")
	if !strings.HasPrefix(got, "Based on our knowledge base:") || !strings.Contains(got, "Refunds take 5 days.") {
		t.Errorf("reply = %q", got)
	}
}

func TestBotReply_Commands(t *testing.T) {
	bot := newTestBot(t, &stubRetriever{}, stubTopics{topics: []string{"Refunds", "Shipping"}})
	ctx := context.Background()

	for _, text := range []string{"/menu", "menu", "MENU", "/menu@docbot"} {
		got := bot.Reply(ctx, "slack", "C1", text)
		if !strings.Contains(got, "• Refunds") || !strings.Contains(got, "• Shipping") {
			t.Errorf("%q: reply = %q", text, got)
		}
	}
	if got := bot.Reply(ctx, "slack", "C1", "/help"); got != botHelpText {
		t.Errorf("/help reply = %q", got)
	}
	if got := bot.Reply(ctx, "slack", "C1", "/frobnicate"); !strings.HasPrefix(got, "Unknown command") {
		t.Errorf("unknown command reply = %q", got)
	}
	if got := bot.Reply(ctx, "slack", "C1", "   "); got != "" {
		t.Errorf("blank reply = %q", got)
	}
}

func TestBotReply_EmptyMenu(t *testing.T) {
	bot := newTestBot(t, &stubRetriever{}, stubTopics{err: domain.ErrNoCorpus})
	if got := bot.Reply(context.Background(), "discord", "1", "/menu"); got != botEmpty {
		t.Errorf("reply = %q", got)
	}
}

func TestBotReply_IndexNotReady(t *testing.T) {
	bot := newTestBot(t, &stubRetriever{err: domain.ErrIndexNotReady}, nil)
	if got := bot.Reply(context.Background(), "telegram", "1", "hello"); got != botNotReady {
		t.Errorf("reply = %q", got)
	}
}

func TestBotReply_OtherErrors(t *testing.T) {
	bot := newTestBot(t, &stubRetriever{err: errors.New("disk on fire")}, nil)
	got := bot.Reply(context.Background(), "telegram", "1", "hello")
	if strings.Contains(got, "disk on fire") || got == "" {
		t.Errorf("reply = %q", got)
	}
}

func TestBotReply_RecordsSessionPerChat(t *testing.T) {
	rec := &recordingAnswerer{}
	bot := NewBotHandler(BotHandlerConfig{Answerer: rec, K: 4, Logger: testLogger()})
	bot.Reply(context.Background(), "telegram", "42", "hi")
	if rec.last.SessionID != "telegram:42" || rec.last.K != 4 {
		t.Errorf("request = %+v", rec.last)
	}
}

type recordingAnswerer struct {
	last answer.Request
}

func (r *recordingAnswerer) Answer(context.Context, answer.Request, chan<- domain.StreamEvent) (*answer.Result, error) {
	return &answer.Result{}, nil
}
func (r *recordingAnswerer) Collect(_ context.Context, req answer.Request) (*answer.Result, error) {
	r.last = req
	return &answer.Result{Answer: "ok"}, nil
}
func (r *recordingAnswerer) GeneratorName() string { return "recording" }

func TestAllowList(t *testing.T) {
	open := newAllowList(nil)
	if !open.allowed("anyone") {
		t.Error("empty allow list should allow everyone")
	}
	a := newAllowList([]string{" 1 ", "2", ""})
	if !a.allowed("1") || !a.allowed("2") || a.allowed("3") {
		t.Errorf("allow list = %v", a)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short = %q", got)
	}
	msg := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitMessage(msg, 10)
	if len(got) != 2 || got[0] != "aaaaaa\n" || got[1] != "bbbbbb" {
		t.Errorf("split = %q", got)
	}
	if strings.Join(splitMessage(strings.Repeat("x", 25), 10), "") != strings.Repeat("x", 25) {
		t.Error("split lost characters")
	}
}

func TestStripMentions(t *testing.T) {
	if got := stripSlackMentions("<@U123ABC> what is the refund policy?"); got != "what is the refund policy?" {
		t.Errorf("slack = %q", got)
	}
	if got := stripDiscordMention("<@!99> hello <@99>", "99"); got != "hello" {
		t.Errorf("discord = %q", got)
	}
}

func TestCommandName(t *testing.T) {
	cases := map[string]string{
		"/menu":         "menu",
		"/Help@bot now": "help",
		"menu":          "menu",
		"what is menu":  "",
		"/":             "",
	}
	for in, want := range cases {
		if got := commandName(in); got != want {
			t.Errorf("commandName(%q) = %q, want %q", in, got, want)
		}
	}
}
