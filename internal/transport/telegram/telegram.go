// Package telegram delivers notifications to a Telegram chat (optionally a
// forum topic) through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"signupbot/internal/transport"
	logx "signupbot/pkg/logx"
)

const textLimit = 4096

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (tests, local bot servers).
	APIURL  string
	Timeout time.Duration
}

type Sender struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

// New builds a send-only bot. No updates are polled.
func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
		Poller:  &tele.LongPoller{Timeout: timeout},
		// Bounds each Bot API call; telebot's Send takes no context.
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{cfg: cfg, bot: b, log: log}, nil
}

func (s *Sender) Name() string { return "telegram" }

// Deliver sends msg.Text as plain text. Bold markers are dropped rather than
// translated, so names with markdown characters can't break parsing.
func (s *Sender) Deliver(ctx context.Context, msg transport.Message) error {
	text := strings.ReplaceAll(msg.Text, "**", "")
	chat := &tele.Chat{ID: s.cfg.ChatID}
	for _, chunk := range transport.SplitText(strings.TrimSpace(text), textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              s.cfg.ThreadID,
		})
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

// classify turns Bot API refusals into RejectedError. Flood control and
// network failures stay transport errors.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return fmt.Errorf("telegram: flood control (retry after %ds): %w", flood.RetryAfter, err)
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return &transport.RejectedError{Sender: "telegram", Status: te.Code, Reason: te.Description}
	}
	// telebot reports unrecognised API errors as "telegram: <description> (<code>)"
	// and wraps network errors as "telebot: ...".
	if strings.HasPrefix(err.Error(), "telegram: ") {
		return &transport.RejectedError{Sender: "telegram", Reason: strings.TrimPrefix(err.Error(), "telegram: ")}
	}
	return err
}
