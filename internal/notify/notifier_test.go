package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ganeshkumarm1/DriftWatcher/internal/config"
)

type fakeDeliverer struct {
	err      error
	messages []string
}

func (f *fakeDeliverer) Name() string { return "fake" }

func (f *fakeDeliverer) Deliver(message string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message)
	return nil
}

// withClock pins the notifier to a fake clock.
func withClock(n *Notifier, t *time.Time) {
	n.now = func() time.Time { return *t }
}

func TestNotifyDrift_CooldownSuppressesSecondAlert(t *testing.T) {
	fd := &fakeDeliverer{}
	n := New(300*time.Second, fd)
	clock := time.Unix(1000, 0)
	withClock(n, &clock)

	if !n.NotifyDrift("Learn Go", 0.95) {
		t.Fatal("first alert should deliver")
	}
	clock = clock.Add(100 * time.Second)
	if n.NotifyDrift("Learn Go", 0.95) {
		t.Fatal("second alert inside cooldown should be suppressed")
	}
	if len(fd.messages) != 1 {
		t.Errorf("delivered = %d, want 1", len(fd.messages))
	}
}

func TestNotifyDrift_DeliversAgainAfterCooldown(t *testing.T) {
	fd := &fakeDeliverer{}
	n := New(300*time.Second, fd)
	clock := time.Unix(1000, 0)
	withClock(n, &clock)

	if !n.NotifyDrift("Learn Go", 0.95) {
		t.Fatal("first alert should deliver")
	}
	clock = clock.Add(301 * time.Second)
	if !n.NotifyDrift("Learn Go", 0.95) {
		t.Fatal("alert after cooldown should deliver")
	}
	if len(fd.messages) != 2 {
		t.Errorf("delivered = %d, want 2", len(fd.messages))
	}
}

func TestNotifyDrift_FailureDoesNotAdvanceCooldown(t *testing.T) {
	fd := &fakeDeliverer{err: errors.New("notification daemon down")}
	n := New(300*time.Second, fd)
	clock := time.Unix(1000, 0)
	withClock(n, &clock)

	if n.NotifyDrift("Learn Go", 0.95) {
		t.Fatal("failed delivery should report false")
	}

	// A failed attempt must not start a cooldown window
	fd.err = nil
	clock = clock.Add(time.Second)
	if !n.NotifyDrift("Learn Go", 0.95) {
		t.Fatal("retry right after a failure should deliver")
	}
}

func TestNotifyDrift_MessageContainsGoal(t *testing.T) {
	fd := &fakeDeliverer{}
	n := New(0, fd)

	n.NotifyDrift("Learn Go", 0.95)
	if len(fd.messages) != 1 {
		t.Fatal("expected one delivery")
	}
	if got := fd.messages[0]; got != "You may be drifting from your goal:\nLearn Go" {
		t.Errorf("message = %q", got)
	}
}

func TestNotifyDrift_PartialFailureStillCountsAsDelivered(t *testing.T) {
	failing := &fakeDeliverer{err: errors.New("down")}
	working := &fakeDeliverer{}
	n := New(300*time.Second, failing, working)
	clock := time.Unix(1000, 0)
	withClock(n, &clock)

	if !n.NotifyDrift("Learn Go", 0.95) {
		t.Fatal("one working channel should count as delivered")
	}
	clock = clock.Add(time.Second)
	if n.NotifyDrift("Learn Go", 0.95) {
		t.Fatal("cooldown should now be active")
	}
}

func TestDesktopDeliverer_Linux(t *testing.T) {
	var gotName string
	var gotArgs []string
	d := &DesktopDeliverer{
		goos: "linux",
		run: func(ctx context.Context, name string, args ...string) error {
			gotName = name
			gotArgs = args
			return nil
		},
	}

	if err := d.Deliver("You may be drifting"); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if gotName != "notify-send" {
		t.Errorf("command = %q, want notify-send", gotName)
	}
	if gotArgs[len(gotArgs)-1] != "You may be drifting" {
		t.Errorf("args = %v", gotArgs)
	}
}

func TestDesktopDeliverer_DarwinEscapesQuotes(t *testing.T) {
	var gotArgs []string
	d := &DesktopDeliverer{
		goos: "darwin",
		run: func(ctx context.Context, name string, args ...string) error {
			gotArgs = args
			return nil
		},
	}

	if err := d.Deliver(`goal "quoted"`); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	script := gotArgs[len(gotArgs)-1]
	if want := `\"quoted\"`; !strings.Contains(script, want) {
		t.Errorf("script %q missing escaped quotes", script)
	}
}

func TestDesktopDeliverer_UnsupportedOS(t *testing.T) {
	d := &DesktopDeliverer{goos: "plan9", run: nil}
	if err := d.Deliver("msg"); err == nil {
		t.Fatal("expected error on unsupported OS")
	}
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "driftwatcher_bot"}
}

func TestNewTelegramDeliverer_Validation(t *testing.T) {
	if _, err := NewTelegramDeliverer(config.TelegramConfig{ChatID: 1}); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := NewTelegramDelivererWithFactory(config.TelegramConfig{Token: "tok"}, func(string) (TelegramBot, error) {
		return &fakeBot{}, nil
	}); err == nil {
		t.Error("expected error for missing chatId")
	}
}

func TestTelegramDeliverer_Send(t *testing.T) {
	bot := &fakeBot{}
	d, err := NewTelegramDelivererWithFactory(config.TelegramConfig{Token: "tok", ChatID: 42}, func(string) (TelegramBot, error) {
		return bot, nil
	})
	if err != nil {
		t.Fatalf("NewTelegramDeliverer error: %v", err)
	}

	if err := d.Deliver("drifting"); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable type %T", bot.sent[0])
	}
	if msg.ChatID != 42 {
		t.Errorf("chatID = %d, want 42", msg.ChatID)
	}
	if msg.Text != "drifting" {
		t.Errorf("text = %q", msg.Text)
	}
}
