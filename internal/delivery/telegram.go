package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "contentsync/pkg/logx"
)

// TelegramConfig configures the social channel (a Telegram broadcast
// channel the bot posts into).
type TelegramConfig struct {
	Token  string
	ChatID int64
	Guard  GuardConfig

	// MessagesPerSec throttles against the Bot API flood limit on top of
	// the sliding-window guard. 0 means the API default of 1 msg/s per chat.
	MessagesPerSec int
}

// telegramAPI is the slice of *tele.Bot the sender needs; tests substitute it.
type telegramAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSender posts a payload to a Telegram channel. The receipt carries
// the posted message id.
type TelegramSender struct {
	cfg   TelegramConfig
	bot   telegramAPI
	flood *rate.Limiter
	guard *guard
	log   logx.Logger
}

func NewTelegramSender(cfg TelegramConfig, log logx.Logger) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return newTelegramSender(cfg, b, log), nil
}

func newTelegramSender(cfg TelegramConfig, bot telegramAPI, log logx.Logger) *TelegramSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	mps := cfg.MessagesPerSec
	if mps <= 0 {
		mps = 1
	}
	return &TelegramSender{
		cfg:   cfg,
		bot:   bot,
		flood: rate.NewLimiter(rate.Limit(mps), mps),
		guard: newGuard(cfg.Guard),
		log:   log,
	}
}

func (s *TelegramSender) Channel() Channel { return ChannelTelegram }

func (s *TelegramSender) Send(ctx context.Context, p Payload) (Receipt, error) {
	if strings.TrimSpace(p.Body) == "" {
		return Receipt{}, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	var rcpt Receipt
	err := s.guard.do(ctx, func(ctx context.Context) error {
		if err := s.flood.Wait(ctx); err != nil {
			return err
		}
		msg, err := s.bot.Send(
			&tele.Chat{ID: s.cfg.ChatID},
			p.Body,
			&tele.SendOptions{ParseMode: tele.ModeMarkdown, DisableWebPagePreview: true},
		)
		if err != nil {
			return fmt.Errorf("telegram post: %w", err)
		}
		rcpt = Receipt{ID: strconv.Itoa(msg.ID)}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	s.log.Info("telegram post sent",
		logx.String("correlation_id", p.CorrelationID),
		logx.String("message_id", rcpt.ID),
	)
	return rcpt, nil
}
