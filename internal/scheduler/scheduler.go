// Package scheduler holds the periodic jobs that drive the live event
// lifecycle: peak detection, end-of-event wrap-up, start reminders and
// host-update dispatch. Each job is invoked by an external time-based
// trigger, tolerates overlapping runs (the notification gate does the
// serializing) and always returns a structured summary instead of failing
// the whole batch.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kay-darko/vybe/internal/models"
	"github.com/kay-darko/vybe/internal/notify"
)

// Config carries the run-time knobs shared by all schedulers.
type Config struct {
	// SendTimeout bounds each individual send call. Exceeding it is a send
	// failure, never an implicit success.
	SendTimeout time.Duration
	// FanOutLimit caps concurrent per-recipient sends within one run.
	FanOutLimit int
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.FanOutLimit <= 0 {
		c.FanOutLimit = 8
	}
	return c
}

// RunSummary is what every scheduler entry point returns to its trigger.
type RunSummary struct {
	Checked      int      `json:"checked"`
	Sent         int      `json:"sent"`
	Skipped      int      `json:"skipped"`
	NoRecipients int      `json:"no_recipients,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

func (s *RunSummary) recordError(scope string, err error) {
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", scope, err))
}

// fanOut sends the payload to every resolved recipient concurrently, bounded
// by cfg.FanOutLimit, each send under its own timeout. One recipient failing
// never blocks the others; failures come back as per-recipient errors.
func fanOut(ctx context.Context, sender notify.Sender, cfg Config, kind models.NotificationKind, emails map[string]string, payload notify.Payload) (int, []error) {
	var (
		mu   sync.Mutex
		sent int
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.FanOutLimit)

	for userID, email := range emails {
		userID, email := userID, email
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(gctx, cfg.SendTimeout)
			defer cancel()

			err := sender.Send(sendCtx, kind, email, payload)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("recipient %s: %v", userID, err))
				return nil
			}
			sent++
			return nil
		})
	}

	_ = g.Wait()
	return sent, errs
}

func logRun(logger *slog.Logger, job string, summary RunSummary) {
	logger.Info("Scheduler run finished",
		"job", job,
		"checked", summary.Checked,
		"sent", summary.Sent,
		"skipped", summary.Skipped,
		"no_recipients", summary.NoRecipients,
		"errors", len(summary.Errors),
	)
}
