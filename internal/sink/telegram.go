// Package sink implements the Telegram side of the mirror: the outbound
// transport used by the relay and the inbound update stream the correlator
// listens to.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"porter/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxSendRetries    = 3
	rateLimitBackoff  = 3 * time.Second
	transientBackoff  = time.Second
	updateTimeoutSecs = 30
)

// Telegram implements domain.SinkTransport on the Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type Config struct {
	Token  string
	Logger *slog.Logger
}

func New(cfg Config) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return &Telegram{bot: bot, logger: cfg.Logger}, nil
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, html string, replyTo int) (domain.SentMessage, error) {
	msg, err := t.sendWithRetry(ctx, func(plain bool) tgbotapi.Chattable {
		m := tgbotapi.NewMessage(chatID, html)
		m.ReplyToMessageID = replyTo
		m.DisableWebPagePreview = true
		if !plain {
			m.ParseMode = tgbotapi.ModeHTML
		}
		return m
	})
	if err != nil {
		return domain.SentMessage{}, err
	}
	return receipt(msg), nil
}

func (t *Telegram) SendPhotoGroup(ctx context.Context, chatID int64, urls []string, caption string, replyTo int) ([]domain.SentMessage, error) {
	if len(urls) == 1 {
		msg, err := t.sendWithRetry(ctx, func(plain bool) tgbotapi.Chattable {
			p := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(urls[0]))
			p.Caption = caption
			p.ReplyToMessageID = replyTo
			if !plain && caption != "" {
				p.ParseMode = tgbotapi.ModeHTML
			}
			return p
		})
		if err != nil {
			return nil, err
		}
		return []domain.SentMessage{receipt(msg)}, nil
	}

	msgs, err := t.sendGroupWithRetry(ctx, func(plain bool) tgbotapi.MediaGroupConfig {
		media := make([]interface{}, 0, len(urls))
		for i, url := range urls {
			p := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(url))
			if i == 0 && caption != "" {
				p.Caption = caption
				if !plain {
					p.ParseMode = tgbotapi.ModeHTML
				}
			}
			media = append(media, p)
		}
		g := tgbotapi.NewMediaGroup(chatID, media)
		g.ReplyToMessageID = replyTo
		return g
	})
	if err != nil {
		return nil, err
	}
	return receipts(msgs), nil
}

func (t *Telegram) SendDocument(ctx context.Context, chatID int64, url string) (domain.SentMessage, error) {
	msg, err := t.sendWithRetry(ctx, func(bool) tgbotapi.Chattable {
		return tgbotapi.NewDocument(chatID, tgbotapi.FileURL(url))
	})
	if err != nil {
		return domain.SentMessage{}, err
	}
	return receipt(msg), nil
}

func (t *Telegram) SendDocumentGroup(ctx context.Context, chatID int64, urls []string) ([]domain.SentMessage, error) {
	msgs, err := t.sendGroupWithRetry(ctx, func(bool) tgbotapi.MediaGroupConfig {
		media := make([]interface{}, 0, len(urls))
		for _, url := range urls {
			media = append(media, tgbotapi.NewInputMediaDocument(tgbotapi.FileURL(url)))
		}
		return tgbotapi.NewMediaGroup(chatID, media)
	})
	if err != nil {
		return nil, err
	}
	return receipts(msgs), nil
}

func (t *Telegram) SendPoll(ctx context.Context, chatID int64, question string, options []string) (domain.SentMessage, error) {
	msg, err := t.sendWithRetry(ctx, func(bool) tgbotapi.Chattable {
		return tgbotapi.NewPoll(chatID, question, options...)
	})
	if err != nil {
		return domain.SentMessage{}, err
	}
	return receipt(msg), nil
}

func (t *Telegram) EditText(ctx context.Context, chatID int64, messageID int, html string) error {
	_, err := t.sendWithRetry(ctx, func(plain bool) tgbotapi.Chattable {
		e := tgbotapi.NewEditMessageText(chatID, messageID, html)
		e.DisableWebPagePreview = true
		if !plain {
			e.ParseMode = tgbotapi.ModeHTML
		}
		return e
	})
	return err
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

// Listen converts bot updates into sink events until the context is
// cancelled. Events are delivered synchronously in arrival order.
func (t *Telegram) Listen(ctx context.Context, handle func(domain.SinkEvent)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeoutSecs
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram polling stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			handle(toSinkEvent(update.Message))
		}
	}
}

func toSinkEvent(msg *tgbotapi.Message) domain.SinkEvent {
	ev := domain.SinkEvent{
		MessageID:            msg.MessageID,
		ChatID:               msg.Chat.ID,
		IsAutoForward:        msg.IsAutomaticForward,
		ForwardFromMessageID: msg.ForwardFromMessageID,
		Text:                 msg.Text,
	}
	if msg.ForwardFromChat != nil {
		ev.ForwardFromChatID = msg.ForwardFromChat.ID
	}
	return ev
}

func receipt(m tgbotapi.Message) domain.SentMessage {
	s := domain.SentMessage{ID: m.MessageID}
	if m.From != nil {
		s.AuthorID = m.From.ID
	}
	return s
}

func receipts(msgs []tgbotapi.Message) []domain.SentMessage {
	out := make([]domain.SentMessage, len(msgs))
	for i, m := range msgs {
		out[i] = receipt(m)
	}
	return out
}

// sendWithRetry sends one message with rate-limit backoff. On an HTML parse
// error the message is rebuilt without parse mode and sent once more, so a
// malformed entity degrades to literal text instead of losing the message.
func (t *Telegram) sendWithRetry(ctx context.Context, build func(plain bool) tgbotapi.Chattable) (tgbotapi.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		msg, err := t.bot.Send(build(false))
		if err == nil {
			return msg, nil
		}
		lastErr = err

		if isParseError(err) {
			t.logger.Warn("telegram parse error, retrying as plain text", "err", err)
			if msg, err2 := t.bot.Send(build(true)); err2 == nil {
				return msg, nil
			}
		}

		if err := t.backoff(ctx, attempt, err); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	return tgbotapi.Message{}, fmt.Errorf("telegram send failed after %d attempts: %w", maxSendRetries+1, lastErr)
}

func (t *Telegram) sendGroupWithRetry(ctx context.Context, build func(plain bool) tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		msgs, err := t.bot.SendMediaGroup(build(false))
		if err == nil {
			return msgs, nil
		}
		lastErr = err

		if isParseError(err) {
			t.logger.Warn("telegram parse error in media group, retrying as plain text", "err", err)
			if msgs, err2 := t.bot.SendMediaGroup(build(true)); err2 == nil {
				return msgs, nil
			}
		}

		if err := t.backoff(ctx, attempt, err); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("telegram media group failed after %d attempts: %w", maxSendRetries+1, lastErr)
}

func (t *Telegram) backoff(ctx context.Context, attempt int, cause error) error {
	if attempt >= maxSendRetries {
		return nil // let the loop fall through to the final error
	}
	wait := time.Duration(attempt+1) * transientBackoff
	if isRateLimited(cause) {
		wait = time.Duration(attempt+1) * rateLimitBackoff
		t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
	} else {
		t.logger.Warn("telegram send error, retrying", "err", cause, "backoff", wait)
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isRateLimited(err error) bool {
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "429")
}

func isParseError(err error) bool {
	return strings.Contains(err.Error(), "can't parse entities")
}
