package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/Yoogi-7/BitgetBot/internal/notify"
)

// AlertKind names an alert rule. Each kind fires at most once per UTC day.
type AlertKind string

const (
	AlertDailyLossWarning  AlertKind = "daily_loss_warning"
	AlertDailyLossCritical AlertKind = "daily_loss_critical"
	AlertConsecutiveLosses AlertKind = "consecutive_losses"
	AlertHighLeverage      AlertKind = "leverage_high"
)

type Alert struct {
	Kind     AlertKind `json:"kind"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Critical bool      `json:"critical"`
	At       time.Time `json:"at"`
}

// AlertSink delivers alerts.
type AlertSink interface {
	Send(ctx context.Context, a Alert) error
}

// NotifySink forwards alerts to a notification sink.
type NotifySink struct {
	Sink notify.Sink
}

func (n NotifySink) Send(ctx context.Context, a Alert) error {
	msg := a.Title + ": " + a.Message
	if a.Critical {
		msg = strings.ToUpper(a.Title) + ": " + a.Message
	}
	return n.Sink.Notify(ctx, notify.RiskAlert(msg, a.At))
}
