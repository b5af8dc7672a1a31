package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"banknotify/internal/config"
	"banknotify/internal/domain"
	"banknotify/internal/permanent"
	"banknotify/internal/templatefmt"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// SendResult returns channel-specific metadata after successful delivery.
// Params: sender-specific metadata fields.
// Returns: optional message identifiers.
type SendResult struct {
	MessageID   int
	ExternalRef string
}

// ChannelSender sends one outbound notification to one channel.
// Params: context and notification payload.
// Returns: channel send metadata and transport error when send fails.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, notification domain.Notification) (SendResult, error)
}

// Router delivers notifications to enabled channels with retries/backoff.
// Params: sender list, retry policy, and per-channel message templates.
// Returns: delivery helper used by the dispatcher and queue workers.
type Router struct {
	senders      map[string]ChannelSender
	channels     []string
	retries      map[string]config.NotifyRetry
	logger       *slog.Logger
	templates    map[string]*template.Template
	templateErrs map[string]error
}

// NewRouter builds notification router from enabled channels.
// Params: global notify config and optional logger.
// Returns: configured router with available senders.
func NewRouter(cfg config.NotifyConfig, logger *slog.Logger) *Router {
	router := &Router{
		senders:      make(map[string]ChannelSender),
		retries:      make(map[string]config.NotifyRetry),
		logger:       logger,
		templates:    make(map[string]*template.Template),
		templateErrs: make(map[string]error),
	}
	for _, channel := range config.NotifyChannelNames() {
		if !config.NotifyChannelEnabled(cfg, channel) {
			continue
		}
		sender := newSenderForChannel(channel, cfg)
		if sender == nil {
			continue
		}
		router.register(sender, config.NotifyChannelRetry(cfg, channel), config.NotifyChannelTemplate(cfg, channel))
	}
	return router
}

// NewRouterWithSenders builds router around explicit senders.
// Params: senders, shared retry policy, message template, and logger.
// Returns: router delivering through the provided senders.
func NewRouterWithSenders(senders []ChannelSender, retry config.NotifyRetry, messageTemplate string, logger *slog.Logger) *Router {
	router := &Router{
		senders:      make(map[string]ChannelSender),
		retries:      make(map[string]config.NotifyRetry),
		logger:       logger,
		templates:    make(map[string]*template.Template),
		templateErrs: make(map[string]error),
	}
	for _, sender := range senders {
		router.register(sender, retry, messageTemplate)
	}
	return router
}

func (r *Router) register(sender ChannelSender, retry config.NotifyRetry, body string) {
	channel := sender.Channel()
	if _, exists := r.senders[channel]; !exists {
		r.channels = append(r.channels, channel)
	}
	r.senders[channel] = sender
	r.retries[channel] = retry
	compiled, err := templatefmt.ParseTemplate("notify."+channel+".template", body)
	if err != nil {
		r.templateErrs[channel] = err
		return
	}
	r.templates[channel] = compiled
}

// newSenderForChannel builds transport sender implementation for one channel key.
// Params: normalized channel key and full notify config.
// Returns: channel sender or nil when channel is unknown.
func newSenderForChannel(channel string, cfg config.NotifyConfig) ChannelSender {
	switch channel {
	case config.NotifyChannelTelegram:
		return NewTelegramSender(cfg.Telegram)
	case config.NotifyChannelHTTP:
		return NewHTTPSender(cfg.HTTP)
	case config.NotifyChannelMattermost:
		return NewMattermostSender(cfg.Mattermost)
	default:
		return nil
	}
}

// Channels returns configured channel list.
// Params: none.
// Returns: sender keys in registry order.
func (r *Router) Channels() []string {
	return r.channels
}

// Transmit delivers one notification to every enabled channel.
// Params: context and built notification.
// Returns: joined channel errors; nil when all channels succeed.
func (r *Router) Transmit(ctx context.Context, notification domain.Notification) error {
	if len(r.channels) == 0 {
		return errors.New("no notify channels are enabled")
	}
	var errs []error
	for _, channel := range r.channels {
		if _, err := r.Deliver(ctx, channel, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver renders and sends one notification to one channel with retry policy.
// Params: destination channel and notification payload.
// Returns: channel metadata and final error after retries.
func (r *Router) Deliver(ctx context.Context, channel string, notification domain.Notification) (SendResult, error) {
	sender, ok := r.senders[channel]
	if !ok {
		return SendResult{}, permanent.Errorf("notify channel %q is not configured", channel)
	}
	if err := r.templateErrs[channel]; err != nil {
		return SendResult{}, permanent.Errorf("notify template for channel %q is invalid: %w", channel, err)
	}

	rendered := notification
	rendered.Channel = channel
	message, err := r.renderMessage(channel, rendered)
	if err != nil {
		return SendResult{}, permanent.Mark(err)
	}
	rendered.Message = message

	return r.sendWithRetry(ctx, sender, rendered, r.retries[channel])
}

// renderMessage applies the channel template to the notification.
// Params: channel key and outbound notification model.
// Returns: rendered message body.
func (r *Router) renderMessage(channel string, notification domain.Notification) (string, error) {
	compiled := r.templates[channel]
	if compiled == nil {
		return notification.Message, nil
	}
	var rendered strings.Builder
	if err := compiled.Execute(&rendered, notification); err != nil {
		return "", fmt.Errorf("render notify template for channel %q: %w", channel, err)
	}
	return strings.TrimRight(rendered.String(), "\n"), nil
}

// sendWithRetry sends one notification with channel-specific retry policy.
// Params: sender, payload, and retry policy for the sender channel.
// Returns: channel metadata and final error after retries.
func (r *Router) sendWithRetry(ctx context.Context, sender ChannelSender, notification domain.Notification, retry config.NotifyRetry) (SendResult, error) {
	if !retry.Enabled {
		return sender.Send(ctx, notification)
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer stopTimer(timer)

	for {
		attempt++
		result, err := sender.Send(ctx, notification)
		if err == nil {
			if retry.LogEachAttempt && attempt > 1 && r.logger != nil {
				r.logger.Info("notify send recovered after retries", "channel", sender.Channel(), "attempt", attempt)
			}
			return result, nil
		}
		if retry.LogEachAttempt && r.logger != nil {
			r.logger.Warn("notify send attempt failed", "channel", sender.Channel(), "attempt", attempt, "error", err.Error())
		}
		if permanent.Is(err) {
			return SendResult{}, err
		}
		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			return SendResult{}, fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), attempt, err)
		}

		timer.Reset(backoff)
		select {
		case <-ctx.Done():
			return SendResult{}, ctx.Err()
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// TelegramSender sends notifications to Telegram Bot API.
// Params: bot token, chat id, and base URL.
// Returns: Telegram channel sender.
type TelegramSender struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegramSender creates Telegram sender with HTTP client.
// Params: Telegram notifier config.
// Returns: initialized sender.
func NewTelegramSender(cfg config.TelegramNotifier) *TelegramSender {
	sender := &TelegramSender{
		chatID: normalizeChatID(cfg.ChatID),
	}

	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = permanent.Mark(errors.New("telegram bot token is required"))
		return sender
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		sender.initErr = permanent.Mark(errors.New("telegram chat_id is required"))
		return sender
	}

	options := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sender.initErr = permanent.Errorf("init telegram bot: %w", err)
		return sender
	}
	sender.client = botClient
	return sender
}

// Channel returns sender channel name.
func (s *TelegramSender) Channel() string {
	return config.NotifyChannelTelegram
}

// Send posts one notification message to Telegram chat.
// Params: context and notification payload.
// Returns: sent message id or transport error.
func (s *TelegramSender) Send(ctx context.Context, notification domain.Notification) (SendResult, error) {
	if s.initErr != nil {
		return SendResult{}, s.initErr
	}
	if s.client == nil {
		return SendResult{}, errors.New("telegram client is not initialized")
	}

	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      notification.Message,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return SendResult{}, errors.New("telegram send returned empty message id")
	}
	return SendResult{MessageID: sent.ID}, nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value from TOML.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// HTTPSender posts notification payload to configured HTTP endpoint.
// Params: endpoint URL, method, timeout, and headers.
// Returns: generic HTTP sender.
type HTTPSender struct {
	cfg    config.HTTPNotifier
	client *http.Client
}

// NewHTTPSender creates generic HTTP sender.
// Params: HTTP notifier config.
// Returns: initialized sender.
func NewHTTPSender(cfg config.HTTPNotifier) *HTTPSender {
	return &HTTPSender{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Channel returns sender channel name.
func (s *HTTPSender) Channel() string {
	return config.NotifyChannelHTTP
}

// Send delivers JSON payload to configured HTTP endpoint.
// Params: context and notification payload.
// Returns: transport or HTTP error.
func (s *HTTPSender) Send(ctx context.Context, notification domain.Notification) (SendResult, error) {
	body, err := json.Marshal(notification)
	if err != nil {
		return SendResult{}, permanent.Errorf("encode http notify payload: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, permanent.Errorf("build http notify request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return SendResult{}, fmt.Errorf("http notify send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return SendResult{}, unexpectedHTTPStatusError("http notify", response)
	}
	return SendResult{}, nil
}

// MattermostSender posts notifications to Mattermost API posts endpoint.
// Params: API base URL, bot token, and channel id from config.
// Returns: Mattermost sender.
type MattermostSender struct {
	cfg    config.MattermostConfig
	client *http.Client
}

// NewMattermostSender creates Mattermost sender.
// Params: Mattermost config.
// Returns: initialized sender.
func NewMattermostSender(cfg config.MattermostConfig) *MattermostSender {
	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &MattermostSender{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

// Channel returns sender channel name.
func (s *MattermostSender) Channel() string {
	return config.NotifyChannelMattermost
}

// Send posts one formatted message to Mattermost API.
// Params: context and notification payload.
// Returns: created post id or transport/HTTP error.
func (s *MattermostSender) Send(ctx context.Context, notification domain.Notification) (SendResult, error) {
	payload := struct {
		ChannelID string `json:"channel_id"`
		Message   string `json:"message"`
	}{
		ChannelID: strings.TrimSpace(s.cfg.ChannelID),
		Message:   notification.Message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, permanent.Errorf("encode mattermost payload: %w", err)
	}

	endpoint := strings.TrimRight(strings.TrimSpace(s.cfg.BaseURL), "/") + "/api/v4/posts"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, permanent.Errorf("build mattermost request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+strings.TrimSpace(s.cfg.BotToken))

	response, err := s.client.Do(request)
	if err != nil {
		return SendResult{}, fmt.Errorf("mattermost send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return SendResult{}, unexpectedHTTPStatusError("mattermost", response)
	}
	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return SendResult{}, fmt.Errorf("decode mattermost response: %w", err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return SendResult{}, errors.New("mattermost response missing id")
	}
	return SendResult{ExternalRef: decoded.ID}, nil
}

// unexpectedHTTPStatusError formats non-2xx HTTP response with optional body.
// Client errors other than 408 and 429 are marked permanent.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	var err error
	rawBody, readErr := io.ReadAll(response.Body)
	trimmedBody := strings.TrimSpace(string(rawBody))
	switch {
	case readErr != nil:
		err = fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	case trimmedBody == "":
		err = fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	default:
		err = fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
	}
	if isPermanentStatus(response.StatusCode) {
		return permanent.Mark(err)
	}
	return err
}

func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
