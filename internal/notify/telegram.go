package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends events to one chat as HTML messages.
type Telegram struct {
	bot    sender
	chatID int64
	log    *zap.Logger
}

// NewTelegram connects to the Bot API. It fails when the token is rejected.
func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram: token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("telegram connected", zap.String("bot", bot.Self.UserName))
	return &Telegram{bot: bot, chatID: chatID, log: log}, nil
}

func (t *Telegram) Notify(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, formatHTML(e))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Error("telegram send failed", zap.String("kind", string(e.Kind)), zap.Error(err))
		return fmt.Errorf("telegram: send %s: %w", e.Kind, err)
	}
	return nil
}

var icons = map[Kind]string{
	KindStartup:      "🚀",
	KindShutdown:     "🛑",
	KindTradeOpened:  "🟢",
	KindTradeClosed:  "💰",
	KindDailySummary: "📈",
	KindRiskAlert:    "⚠️",
	KindError:        "❌",
}

func formatHTML(e Event) string {
	var b strings.Builder
	if icon, ok := icons[e.Kind]; ok {
		b.WriteString(icon)
		b.WriteByte(' ')
	}
	b.WriteString("<b>")
	b.WriteString(tgbotapi.EscapeText(tgbotapi.ModeHTML, e.Title))
	b.WriteString("</b>")
	for _, l := range e.Lines {
		b.WriteByte('\n')
		b.WriteString(tgbotapi.EscapeText(tgbotapi.ModeHTML, l))
	}
	return b.String()
}
