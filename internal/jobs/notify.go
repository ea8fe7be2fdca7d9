package jobs

import (
	"context"
	"log/slog"
)

// Notification is everything a delivery channel gets about a run.
type Notification struct {
	ResultCount     int    `json:"resultCount"`
	SiteName        string `json:"siteName"`
	SiteURL         string `json:"siteUrl"`
	InstructionText string `json:"instructionText"`
}

// Notifier delivers a Notification (email, chat, ...). Delivery is owned
// by the implementation; the rescraper only reports failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("new results",
		"site", n.SiteName,
		"url", n.SiteURL,
		"results", n.ResultCount,
		"instruction", n.InstructionText,
	)
	return nil
}
