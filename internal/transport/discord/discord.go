// Package discord posts messages to a Discord channel, either as a bot
// through the REST API or through an incoming webhook.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"signupbot/internal/transport"
	logx "signupbot/pkg/logx"
)

const textLimit = 2000

type Config struct {
	Token      string
	ChannelID  string
	WebhookURL string
	// BaseURL replaces the REST API root (tests, proxies).
	BaseURL string
	Timeout time.Duration
}

type Sender struct {
	cfg     Config
	session *discordgo.Session
	log     logx.Logger

	webhookID    string
	webhookToken string
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.ChannelID = strings.TrimSpace(cfg.ChannelID)
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	if cfg.WebhookURL == "" && (cfg.Token == "" || cfg.ChannelID == "") {
		return nil, errors.New("discord: token and channel_id (or webhook_url) are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	s := &Sender{cfg: cfg, log: log}
	apiBase := strings.TrimSpace(cfg.BaseURL)
	token := ""
	if cfg.WebhookURL != "" {
		id, tok, base, err := parseWebhookURL(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		s.webhookID, s.webhookToken = id, tok
		if apiBase == "" {
			apiBase = base
		}
	} else {
		token = "Bot " + cfg.Token
	}

	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: session: %w", err)
	}
	// One attempt per message; the notifier owns pacing.
	session.ShouldRetryOnRateLimit = false
	session.MaxRestRetries = 0
	session.Client = &http.Client{Timeout: cfg.Timeout}
	if apiBase != "" {
		root, err := url.Parse(strings.TrimRight(apiBase, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("discord: base_url: %w", err)
		}
		session.Client.Transport = &rebase{root: root, next: http.DefaultTransport}
	}
	s.session = session
	return s, nil
}

func (s *Sender) Name() string { return "discord" }

// Deliver posts msg.Text, split into chunks under Discord's length limit.
func (s *Sender) Deliver(ctx context.Context, msg transport.Message) error {
	for _, chunk := range transport.SplitText(msg.Text, textLimit) {
		if err := s.post(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) post(ctx context.Context, content string) error {
	noPings := &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	var err error
	if s.webhookID != "" {
		_, err = s.session.WebhookExecute(s.webhookID, s.webhookToken, true, &discordgo.WebhookParams{
			Content:         content,
			AllowedMentions: noPings,
		}, discordgo.WithContext(ctx))
	} else {
		_, err = s.session.ChannelMessageSendComplex(s.cfg.ChannelID, &discordgo.MessageSend{
			Content:         content,
			AllowedMentions: noPings,
		}, discordgo.WithContext(ctx))
	}
	if err != nil {
		return s.classify(err)
	}
	return nil
}

// classify maps 4xx API answers (other than 429) to RejectedError.
func (s *Sender) classify(err error) error {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Errorf("discord: rate limited: %w", err)
	}
	var re *discordgo.RESTError
	if !errors.As(err, &re) || re.Response == nil {
		return fmt.Errorf("discord: post: %w", err)
	}
	status := re.Response.StatusCode
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("discord: server error %d: %w", status, err)
	}
	reason := strings.TrimSpace(string(re.ResponseBody))
	code := 0
	if re.Message != nil {
		code = re.Message.Code
		if re.Message.Message != "" {
			reason = re.Message.Message
		}
	}
	if reason == "" {
		reason = re.Response.Status
	}
	s.log.Debug("discord rejected message", logx.Int("status", status), logx.Int("code", code))
	return &transport.RejectedError{Sender: s.Name(), Status: status, Reason: reason}
}

// parseWebhookURL splits ".../webhooks/<id>/<token>" and returns the API
// root to use. Official Discord hosts keep discordgo's versioned root.
func parseWebhookURL(raw string) (id, token, apiBase string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", "", errors.New("discord: invalid webhook_url")
	}
	prefix, rest, ok := strings.Cut(u.Path, "/webhooks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if !ok || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", errors.New("discord: webhook_url must end in /webhooks/<id>/<token>")
	}
	if !isDiscordHost(u.Host) {
		apiBase = u.Scheme + "://" + u.Host + prefix
	}
	return parts[0], parts[1], apiBase, nil
}

func isDiscordHost(host string) bool {
	host = strings.ToLower(host)
	return host == "discord.com" || host == "discordapp.com" || strings.HasSuffix(host, ".discord.com")
}

// rebase sends requests aimed at discordgo's API root to root instead.
type rebase struct {
	root *url.URL
	next http.RoundTripper
}

func (r *rebase) RoundTrip(req *http.Request) (*http.Response, error) {
	rest, ok := strings.CutPrefix(req.URL.String(), discordgo.EndpointAPI)
	if !ok {
		return r.next.RoundTrip(req)
	}
	target, err := r.root.Parse(rest)
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.URL = target
	out.Host = target.Host
	return r.next.RoundTrip(out)
}
