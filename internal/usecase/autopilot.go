package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
	"github.com/atomcal/autopilot/internal/email"
	"github.com/atomcal/autopilot/internal/metrics"
	"github.com/atomcal/autopilot/internal/repository"
)

// FeaturesApplier fires the downstream work one window describes.
type FeaturesApplier interface {
	Apply(ctx context.Context, window domain.WindowPayload) error
}

// AutopilotUsecase drives the autopilot lifecycle. There is no stored state
// field: a user is enabled exactly when a record and its trigger both exist,
// and every transition here keeps the two converging (create trigger before
// record, roll back the trigger when the record write fails, tolerate cleanup
// failures that only leave garbage behind).
type AutopilotUsecase struct {
	triggers repository.Triggers
	records  repository.AutopilotRecords
	prefs    repository.Preferences
	features FeaturesApplier
	alerts   email.Sender
	logger   *slog.Logger

	// Enable registers its first trigger against the seed webhook, which
	// plants the self-perpetuating cycle; every trigger after that calls the
	// roll webhook. alertTo receives failure-alert emails.
	seedWebhookURL string
	rollWebhookURL string
	alertTo        string

	now func() time.Time
	// randInt returns a uniform integer in [min, max]. Swapped in tests.
	randInt func(min, max int) int
}

func NewAutopilotUsecase(
	triggers repository.Triggers,
	records repository.AutopilotRecords,
	prefs repository.Preferences,
	features FeaturesApplier,
	alerts email.Sender,
	logger *slog.Logger,
	seedWebhookURL, rollWebhookURL string,
	alertTo string,
) *AutopilotUsecase {
	return &AutopilotUsecase{
		triggers:       triggers,
		records:        records,
		prefs:          prefs,
		features:       features,
		alerts:         alerts,
		logger:         logger.With("component", "autopilot_usecase"),
		seedWebhookURL: seedWebhookURL,
		rollWebhookURL: rollWebhookURL,
		alertTo:        alertTo,
		now:            time.Now,
		randInt: func(min, max int) int {
			return min + rand.IntN(max-min+1)
		},
	}
}

// EnableInput carries the caller-supplied parts of an enable request. Window
// bounds are optional wall-clock strings in Timezone; absent bounds default
// to now+1d .. now+8d.
type EnableInput struct {
	UserID          string `json:"userId"`
	Timezone        string `json:"timezone"`
	WindowStartDate string `json:"windowStartDate"`
	WindowEndDate   string `json:"windowEndDate"`
}

// Enable turns autopilot on for a user: one scheduled trigger and one record,
// created in that order so a failed record write can roll the trigger back.
func (u *AutopilotUsecase) Enable(ctx context.Context, in EnableInput) (*domain.AutopilotRecord, error) {
	if in.UserID == "" {
		return nil, domain.ValidationFault("userId is required")
	}
	if in.Timezone == "" {
		return nil, domain.ValidationFault("timezone is required")
	}
	loc, err := time.LoadLocation(in.Timezone)
	if err != nil {
		return nil, domain.ValidationFault(fmt.Sprintf("unknown timezone %q", in.Timezone))
	}

	now := u.now().In(loc)
	startStr := in.WindowStartDate
	endStr := in.WindowEndDate
	if startStr == "" {
		startStr = formatWall(now.AddDate(0, 0, 1))
	}
	if endStr == "" {
		endStr = formatWall(now.AddDate(0, 0, 8))
	}

	fireAt, err := parseWall(startStr, loc)
	if err != nil {
		return nil, domain.ValidationFault(err.Error())
	}

	body := domain.WindowPayload{
		UserID:          in.UserID,
		WindowStartDate: startStr,
		WindowEndDate:   endStr,
		Timezone:        in.Timezone,
	}
	record := domain.AutopilotRecord{
		UserID:     in.UserID,
		ScheduleAt: fireAt.UTC(),
		Timezone:   in.Timezone,
		Payload:    body,
		UpdatedAt:  u.now().UTC(),
	}

	// The first trigger goes to the seed webhook; its firing plants the
	// self-perpetuating roll cycle.
	eventID, err := u.triggers.Create(ctx, record.ScheduleAt, u.seedWebhookURL,
		domain.TriggerPayload{Autopilot: record, Body: body},
		fmt.Sprintf("autopilot enable for user %s", in.UserID))
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("enable", "error").Inc()
		return nil, faultWithCode(err, domain.CodeCreateEvent, "failed to create scheduled trigger")
	}

	// The trigger id is the record's primary key: the two are 1:1 and there
	// is no independent id generation.
	record.ID = eventID

	saved, err := u.records.Upsert(ctx, &record)
	if err != nil {
		// Roll the trigger back so it never fires against a record that was
		// never written. Its own failure is logged, not escalated.
		if delErr := u.triggers.Delete(ctx, eventID); delErr != nil {
			u.logger.Error("rollback of orphaned trigger failed",
				"event_id", eventID, "user_id", in.UserID, "error", delErr)
		} else {
			u.logger.Info("rolled back orphaned trigger", "event_id", eventID, "user_id", in.UserID)
		}
		metrics.CyclesTotal.WithLabelValues("enable", "error").Inc()
		return nil, faultWithCode(err, domain.CodeUpsertAutopilot, "failed to persist autopilot record")
	}

	metrics.CyclesTotal.WithLabelValues("enable", "success").Inc()
	u.logger.Info("autopilot enabled", "user_id", in.UserID, "event_id", eventID, "schedule_at", record.ScheduleAt)
	return saved, nil
}

// Disable stops future firings for the given id (trigger id = record id).
// A trigger that is already gone still counts as stopped, so its deletion
// failure is tolerated; a record that cannot be deleted is not, because a
// lingering record misrepresents the scheduling state.
func (u *AutopilotUsecase) Disable(ctx context.Context, id string) error {
	if id == "" {
		return domain.ValidationFault("autopilot id is required")
	}

	if err := u.triggers.Delete(ctx, id); err != nil {
		u.logger.Warn("scheduled trigger delete failed, proceeding with record delete",
			"event_id", id, "error", err)
	}

	if _, err := u.records.Delete(ctx, id); err != nil {
		metrics.CyclesTotal.WithLabelValues("disable", "error").Inc()
		return faultWithCode(err, domain.CodeDeleteDBRecord, "failed to delete autopilot record")
	}

	metrics.CyclesTotal.WithLabelValues("disable", "success").Inc()
	u.logger.Info("autopilot disabled", "event_id", id)
	return nil
}

// Status reads the current record, by id when given, else the user's first.
func (u *AutopilotUsecase) Status(ctx context.Context, userID, autopilotID string) (*domain.AutopilotRecord, error) {
	var (
		record *domain.AutopilotRecord
		err    error
	)
	if autopilotID != "" {
		record, err = u.records.GetByID(ctx, autopilotID)
	} else {
		record, err = u.records.FirstForUser(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrAutopilotNotFound
	}
	return record, nil
}

// RollWindow is the webhook-driven cycle: apply the current window's work,
// compute the next window (+1d start, +7d end at a randomized time of day),
// register the next trigger, then swap the record over to it.
func (u *AutopilotUsecase) RollWindow(ctx context.Context, old domain.AutopilotRecord, oldBody domain.WindowPayload) error {
	current, err := u.records.FirstForUser(ctx, old.UserID)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("roll", "error").Inc()
		return err
	}
	if current == nil {
		// Deleted out from under us (a disable racing the webhook). The user
		// removed it; recreating it here would undo that.
		u.logger.Info("autopilot record gone, skipping roll", "user_id", old.UserID)
		metrics.CyclesTotal.WithLabelValues("roll", "noop").Inc()
		return nil
	}

	if err := u.features.Apply(ctx, oldBody); err != nil {
		u.logger.Warn("features apply for current window failed",
			"user_id", old.UserID, "error", err)
	}

	return u.advance(ctx, old, oldBody, current, 1, 7, "roll")
}

// SeedInitialWindow is the one-shot variant that plants the first
// self-perpetuating trigger: same selection and creation as RollWindow but
// anchored at the current window start (+0d/+6d) and with no prior record to
// look up or clean away.
func (u *AutopilotUsecase) SeedInitialWindow(ctx context.Context, old domain.AutopilotRecord, oldBody domain.WindowPayload) error {
	return u.advance(ctx, old, oldBody, nil, 0, 6, "seed")
}

// advance performs the shared tail of a cycle: preference-driven window
// computation, new trigger, old-record cleanup (when oldRecord is set),
// record upsert.
func (u *AutopilotUsecase) advance(ctx context.Context, old domain.AutopilotRecord, oldBody domain.WindowPayload, oldRecord *domain.AutopilotRecord, startDays, endDays int, operation string) error {
	fail := func(err error) error {
		metrics.CyclesTotal.WithLabelValues(operation, "error").Inc()
		return err
	}

	loc, err := time.LoadLocation(oldBody.Timezone)
	if err != nil {
		return fail(domain.ValidationFault(fmt.Sprintf("unknown timezone %q", oldBody.Timezone)))
	}

	pref, err := u.prefs.ForUser(ctx, oldBody.UserID)
	if err != nil {
		return fail(err)
	}
	oldEnd, err := parseWall(oldBody.WindowEndDate, loc)
	if err != nil {
		return fail(domain.ValidationFault(err.Error()))
	}
	weekday := isoWeekday(oldEnd)

	startHour := 0
	if pref != nil {
		startHour, err = pref.StartHourFor(weekday)
	}
	if pref == nil || err != nil {
		return fail(domain.NewFault(domain.KindInternal, "",
			fmt.Sprintf("no applicable start time found for weekday %d", weekday)))
	}

	// Spread users out: fire somewhere before their preferred start of day
	// rather than all at the same wall-clock instant.
	hour := 0
	if startHour > 0 {
		hour = u.randInt(0, startHour-1)
	}
	minute := u.randInt(0, 59)

	next, err := rollWindow(oldBody, loc, hour, minute, startDays, endDays)
	if err != nil {
		return fail(domain.ValidationFault(err.Error()))
	}

	newBody := oldBody
	newBody.WindowStartDate = next.Start
	newBody.WindowEndDate = next.End

	newRecord := old
	newRecord.ScheduleAt = next.FireAt
	newRecord.Payload = newBody
	newRecord.UpdatedAt = u.now().UTC()

	eventID, err := u.triggers.Create(ctx, next.FireAt, u.rollWebhookURL,
		domain.TriggerPayload{Autopilot: newRecord, Body: newBody},
		fmt.Sprintf("autopilot %s for user %s", operation, oldBody.UserID))
	if err != nil {
		return fail(faultWithCode(err, domain.CodeCreateEvent, "failed to create new daily features trigger"))
	}
	newRecord.ID = eventID

	if oldRecord != nil && oldRecord.ID != eventID {
		// The new trigger is live; a row that refuses to go away does not
		// threaten it, so this cleanup never aborts the cycle.
		if _, err := u.records.Delete(ctx, oldRecord.ID); err != nil {
			u.logger.Warn("old autopilot record delete failed",
				"old_id", oldRecord.ID, "user_id", oldBody.UserID, "error", err)
		}
	}

	if _, err := u.records.Upsert(ctx, &newRecord); err != nil {
		// A live trigger with no record means the next cycle's exists-guard
		// will silently stop the loop. That cannot be rolled back safely
		// here, so raise a human.
		u.alert(ctx, fmt.Sprintf("autopilot record write failed after trigger %s went live", eventID),
			fmt.Sprintf("user %s, operation %s, fire at %s: %v", oldBody.UserID, operation, next.FireAt, err))
		return fail(faultWithCode(err, domain.CodeUpsertAutopilot, "failed to persist rolled autopilot record"))
	}

	metrics.CyclesTotal.WithLabelValues(operation, "success").Inc()
	u.logger.Info("autopilot window advanced",
		"operation", operation,
		"user_id", oldBody.UserID,
		"event_id", eventID,
		"window_start", next.Start,
		"window_end", next.End,
	)
	return nil
}

func (u *AutopilotUsecase) alert(ctx context.Context, subject, body string) {
	if u.alerts == nil || u.alertTo == "" {
		return
	}
	if err := u.alerts.Send(ctx, u.alertTo, subject, body); err != nil {
		u.logger.Error("failure alert email not sent", "subject", subject, "error", err)
	}
}

// faultWithCode rewraps err under the state machine's stable code while
// keeping the classified kind and upstream details visible.
func faultWithCode(err error, code, message string) *domain.Fault {
	inner := domain.FaultFrom(err)
	return &domain.Fault{
		Kind:       inner.Kind,
		Code:       code,
		Message:    fmt.Sprintf("%s: %s", message, inner.Message),
		Details:    inner,
		HTTPStatus: inner.HTTPStatus,
	}
}
