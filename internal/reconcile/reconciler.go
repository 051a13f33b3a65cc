package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
	"github.com/atomcal/autopilot/internal/email"
	"github.com/atomcal/autopilot/internal/metrics"
	"github.com/atomcal/autopilot/internal/repository"
	"github.com/robfig/cron/v3"
)

// Reconciler periodically sweeps for stale autopilot records: a live record
// whose scheduleAt is further in the past than the grace period means the
// trigger fired but the roll never completed, or the trigger was lost. The
// sweep is read-only — it alerts, it never repairs, because deciding between
// "re-seed" and "the user is mid-disable" needs a human.
type Reconciler struct {
	records repository.AutopilotRecords
	alerts  email.Sender
	logger  *slog.Logger

	schedule cron.Schedule
	grace    time.Duration
	alertTo  string

	now func() time.Time
}

func New(records repository.AutopilotRecords, alerts email.Sender, logger *slog.Logger, cronExpr string, grace time.Duration, alertTo string) (*Reconciler, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse reconcile cron %q: %w", cronExpr, err)
	}
	return &Reconciler{
		records:  records,
		alerts:   alerts,
		logger:   logger.With("component", "reconciler"),
		schedule: schedule,
		grace:    grace,
		alertTo:  alertTo,
		now:      time.Now,
	}, nil
}

func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("reconciler started", "grace", r.grace)

	for {
		next := r.schedule.Next(r.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("reconciler shut down")
			return
		case <-timer.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	start := r.now()
	cutoff := start.Add(-r.grace)

	stale, err := r.records.ListScheduledBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("reconcile sweep failed", "error", err)
		return
	}

	metrics.ReconcileStaleRecords.Set(float64(len(stale)))
	metrics.ReconcileCycleDuration.Observe(time.Since(start).Seconds())

	if len(stale) == 0 {
		r.logger.Debug("reconcile sweep clean", "cutoff", cutoff)
		return
	}

	for _, rec := range stale {
		r.logger.Warn("stale autopilot record",
			"id", rec.ID,
			"user_id", rec.UserID,
			"schedule_at", rec.ScheduleAt,
			"overdue", start.Sub(rec.ScheduleAt),
		)
	}
	r.alert(ctx, stale, cutoff)
}

func (r *Reconciler) alert(ctx context.Context, stale []domain.AutopilotRecord, cutoff time.Time) {
	if r.alerts == nil || r.alertTo == "" {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<p>%d autopilot record(s) have a trigger fire time before %s and never rolled forward:</p><ul>",
		len(stale), cutoff.UTC().Format(time.RFC3339))
	for _, rec := range stale {
		fmt.Fprintf(&b, "<li>%s (user %s, scheduled %s)</li>", rec.ID, rec.UserID, rec.ScheduleAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("</ul>")

	subject := fmt.Sprintf("autopilot reconciler: %d stale record(s)", len(stale))
	if err := r.alerts.Send(ctx, r.alertTo, subject, b.String()); err != nil {
		r.logger.Error("reconcile alert email not sent", "error", err)
	}
}
