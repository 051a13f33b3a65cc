package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
)

// ---- fakes ----

type fakeTriggers struct {
	create func(ctx context.Context, fireAtUTC time.Time, webhookURL string, payload domain.TriggerPayload, comment string) (string, error)
	delete func(ctx context.Context, eventID string) error

	createCalls int
	deleteCalls []string
}

func (f *fakeTriggers) Create(ctx context.Context, fireAtUTC time.Time, webhookURL string, payload domain.TriggerPayload, comment string) (string, error) {
	f.createCalls++
	if f.create == nil {
		return "evt-123", nil
	}
	return f.create(ctx, fireAtUTC, webhookURL, payload, comment)
}

func (f *fakeTriggers) Delete(ctx context.Context, eventID string) error {
	f.deleteCalls = append(f.deleteCalls, eventID)
	if f.delete == nil {
		return nil
	}
	return f.delete(ctx, eventID)
}

type fakeRecords struct {
	upsert       func(ctx context.Context, record *domain.AutopilotRecord) (*domain.AutopilotRecord, error)
	getByID      func(ctx context.Context, id string) (*domain.AutopilotRecord, error)
	firstForUser func(ctx context.Context, userID string) (*domain.AutopilotRecord, error)
	delete       func(ctx context.Context, id string) (*domain.AutopilotRecord, error)

	upsertCalls int
	deleteCalls []string
}

func (f *fakeRecords) Upsert(ctx context.Context, record *domain.AutopilotRecord) (*domain.AutopilotRecord, error) {
	f.upsertCalls++
	if f.upsert == nil {
		return record, nil
	}
	return f.upsert(ctx, record)
}

func (f *fakeRecords) GetByID(ctx context.Context, id string) (*domain.AutopilotRecord, error) {
	if f.getByID == nil {
		return nil, nil
	}
	return f.getByID(ctx, id)
}

func (f *fakeRecords) FirstForUser(ctx context.Context, userID string) (*domain.AutopilotRecord, error) {
	if f.firstForUser == nil {
		return nil, nil
	}
	return f.firstForUser(ctx, userID)
}

func (f *fakeRecords) Delete(ctx context.Context, id string) (*domain.AutopilotRecord, error) {
	f.deleteCalls = append(f.deleteCalls, id)
	if f.delete == nil {
		return nil, nil
	}
	return f.delete(ctx, id)
}

func (f *fakeRecords) ListScheduledBefore(context.Context, time.Time) ([]domain.AutopilotRecord, error) {
	return nil, nil
}

type fakePrefs struct {
	forUser func(ctx context.Context, userID string) (*domain.SchedulingPreference, error)
}

func (f *fakePrefs) ForUser(ctx context.Context, userID string) (*domain.SchedulingPreference, error) {
	if f.forUser == nil {
		return &domain.SchedulingPreference{
			UserID: userID,
			StartTimes: []domain.StartTime{
				{Day: 1, Hour: 9}, {Day: 2, Hour: 9}, {Day: 3, Hour: 9},
				{Day: 4, Hour: 9}, {Day: 5, Hour: 9}, {Day: 6, Hour: 10}, {Day: 7, Hour: 10},
			},
		}, nil
	}
	return f.forUser(ctx, userID)
}

type fakeFeatures struct {
	apply func(ctx context.Context, window domain.WindowPayload) error
	calls int
}

func (f *fakeFeatures) Apply(ctx context.Context, window domain.WindowPayload) error {
	f.calls++
	if f.apply == nil {
		return nil
	}
	return f.apply(ctx, window)
}

type fakeAlerts struct {
	sent []string
}

func (f *fakeAlerts) Send(_ context.Context, _, subject, _ string) error {
	f.sent = append(f.sent, subject)
	return nil
}

// ---- helpers ----

type deps struct {
	triggers *fakeTriggers
	records  *fakeRecords
	prefs    *fakePrefs
	features *fakeFeatures
	alerts   *fakeAlerts
}

func newTestUsecase(d deps) *AutopilotUsecase {
	if d.triggers == nil {
		d.triggers = &fakeTriggers{}
	}
	if d.records == nil {
		d.records = &fakeRecords{}
	}
	if d.prefs == nil {
		d.prefs = &fakePrefs{}
	}
	if d.features == nil {
		d.features = &fakeFeatures{}
	}
	if d.alerts == nil {
		d.alerts = &fakeAlerts{}
	}
	u := NewAutopilotUsecase(
		d.triggers, d.records, d.prefs, d.features, d.alerts,
		slog.New(slog.DiscardHandler),
		"https://example.com/webhooks/schedule-assist-seed",
		"https://example.com/webhooks/features-apply",
		"oncall@example.com",
	)
	u.now = func() time.Time { return time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC) }
	u.randInt = func(min, _ int) int { return min }
	return u
}

func faultCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	return domain.FaultFrom(err).Code
}

// windowEndDate 2024-09-11 is a Wednesday (ISO weekday 3).
var testBody = domain.WindowPayload{
	UserID:          "user-1",
	WindowStartDate: "2024-09-05T03:30:00Z",
	WindowEndDate:   "2024-09-11T03:30:00Z",
	Timezone:        "UTC",
}

var testRecord = domain.AutopilotRecord{
	ID:         "evt-old",
	UserID:     "user-1",
	ScheduleAt: time.Date(2024, 9, 5, 3, 30, 0, 0, time.UTC),
	Timezone:   "UTC",
	Payload:    testBody,
}

// ---- Enable ----

func TestEnable_TriggerFailureWritesNoRecord(t *testing.T) {
	triggers := &fakeTriggers{
		create: func(context.Context, time.Time, string, domain.TriggerPayload, string) (string, error) {
			return "", domain.HTTPFault(502, "CreateScheduledEvent", nil)
		},
	}
	records := &fakeRecords{}
	u := newTestUsecase(deps{triggers: triggers, records: records})

	_, err := u.Enable(context.Background(), EnableInput{UserID: "user-1", Timezone: "UTC"})
	if code := faultCode(t, err); code != domain.CodeCreateEvent {
		t.Errorf("code = %s, want %s", code, domain.CodeCreateEvent)
	}
	if records.upsertCalls != 0 {
		t.Errorf("upsert calls = %d, want 0", records.upsertCalls)
	}
}

func TestEnable_UpsertFailureRollsBackTrigger(t *testing.T) {
	triggers := &fakeTriggers{}
	records := &fakeRecords{
		upsert: func(context.Context, *domain.AutopilotRecord) (*domain.AutopilotRecord, error) {
			return nil, domain.HTTPFault(500, "UpsertAutopilot", nil)
		},
	}
	u := newTestUsecase(deps{triggers: triggers, records: records})

	_, err := u.Enable(context.Background(), EnableInput{UserID: "user-1", Timezone: "UTC"})
	if code := faultCode(t, err); code != domain.CodeUpsertAutopilot {
		t.Errorf("code = %s, want %s", code, domain.CodeUpsertAutopilot)
	}
	if len(triggers.deleteCalls) != 1 || triggers.deleteCalls[0] != "evt-123" {
		t.Errorf("trigger delete calls = %v, want exactly [evt-123]", triggers.deleteCalls)
	}
}

func TestEnable_PersistsTriggerIDAndUTCScheduleAt(t *testing.T) {
	var saved *domain.AutopilotRecord
	records := &fakeRecords{
		upsert: func(_ context.Context, record *domain.AutopilotRecord) (*domain.AutopilotRecord, error) {
			saved = record
			return record, nil
		},
	}
	u := newTestUsecase(deps{records: records})

	got, err := u.Enable(context.Background(), EnableInput{
		UserID:          "user-1",
		Timezone:        "UTC",
		WindowStartDate: "2024-09-02T09:00:00Z",
		WindowEndDate:   "2024-09-09T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if saved.ID != "evt-123" || got.ID != "evt-123" {
		t.Errorf("record id = %q/%q, want evt-123", saved.ID, got.ID)
	}
	want := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	if !saved.ScheduleAt.Equal(want) {
		t.Errorf("scheduleAt = %s, want %s", saved.ScheduleAt, want)
	}
}

func TestEnable_DefaultsWindowToOneThroughEightDays(t *testing.T) {
	var payload domain.TriggerPayload
	triggers := &fakeTriggers{
		create: func(_ context.Context, _ time.Time, _ string, p domain.TriggerPayload, _ string) (string, error) {
			payload = p
			return "evt-123", nil
		},
	}
	u := newTestUsecase(deps{triggers: triggers})

	if _, err := u.Enable(context.Background(), EnableInput{UserID: "user-1", Timezone: "UTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// now is pinned to 2024-09-01T12:00:00Z.
	if !strings.HasPrefix(payload.Body.WindowStartDate, "2024-09-02T12:00:00") {
		t.Errorf("window start = %s, want now+1d", payload.Body.WindowStartDate)
	}
	if !strings.HasPrefix(payload.Body.WindowEndDate, "2024-09-09T12:00:00") {
		t.Errorf("window end = %s, want now+8d", payload.Body.WindowEndDate)
	}
}

func TestEnable_ValidatesInput(t *testing.T) {
	u := newTestUsecase(deps{})

	if _, err := u.Enable(context.Background(), EnableInput{Timezone: "UTC"}); faultCode(t, err) != domain.CodeValidation {
		t.Errorf("missing user id: %v", err)
	}
	if _, err := u.Enable(context.Background(), EnableInput{UserID: "u", Timezone: "Mars/Olympus"}); faultCode(t, err) != domain.CodeValidation {
		t.Errorf("bad timezone: %v", err)
	}
}

// ---- Disable ----

func TestDisable_EmptyIDMakesNoCalls(t *testing.T) {
	triggers := &fakeTriggers{}
	records := &fakeRecords{}
	u := newTestUsecase(deps{triggers: triggers, records: records})

	err := u.Disable(context.Background(), "")
	if code := faultCode(t, err); code != domain.CodeValidation {
		t.Errorf("code = %s, want %s", code, domain.CodeValidation)
	}
	if len(triggers.deleteCalls) != 0 || len(records.deleteCalls) != 0 {
		t.Error("stores must not be called for an empty id")
	}
}

func TestDisable_ToleratesTriggerDeleteFailure(t *testing.T) {
	triggers := &fakeTriggers{
		delete: func(context.Context, string) error {
			return domain.HTTPFault(500, "DeleteScheduledEvent", nil)
		},
	}
	records := &fakeRecords{}
	u := newTestUsecase(deps{triggers: triggers, records: records})

	if err := u.Disable(context.Background(), "evt-123"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(records.deleteCalls) != 1 {
		t.Errorf("record delete calls = %d, want 1", len(records.deleteCalls))
	}
}

func TestDisable_RecordDeleteFailureIsFatal(t *testing.T) {
	records := &fakeRecords{
		delete: func(context.Context, string) (*domain.AutopilotRecord, error) {
			return nil, domain.HTTPFault(500, "DeleteAutopilot", nil)
		},
	}
	u := newTestUsecase(deps{records: records})

	err := u.Disable(context.Background(), "evt-123")
	if code := faultCode(t, err); code != domain.CodeDeleteDBRecord {
		t.Errorf("code = %s, want %s", code, domain.CodeDeleteDBRecord)
	}
}

// ---- Status ----

func TestStatus_NotFound(t *testing.T) {
	u := newTestUsecase(deps{})

	_, err := u.Status(context.Background(), "user-1", "")
	if !errors.Is(err, domain.ErrAutopilotNotFound) {
		t.Errorf("error = %v, want ErrAutopilotNotFound", err)
	}
}

func TestStatus_PrefersExplicitID(t *testing.T) {
	records := &fakeRecords{
		getByID: func(_ context.Context, id string) (*domain.AutopilotRecord, error) {
			rec := testRecord
			rec.ID = id
			return &rec, nil
		},
	}
	u := newTestUsecase(deps{records: records})

	record, err := u.Status(context.Background(), "user-1", "evt-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.ID != "evt-9" {
		t.Errorf("record id = %q, want evt-9", record.ID)
	}
}

// ---- RollWindow ----

func existingRecord() *fakeRecords {
	return &fakeRecords{
		firstForUser: func(context.Context, string) (*domain.AutopilotRecord, error) {
			rec := testRecord
			return &rec, nil
		},
	}
}

func TestRollWindow_GoneRecordIsNoOp(t *testing.T) {
	triggers := &fakeTriggers{}
	records := &fakeRecords{} // FirstForUser returns nil
	u := newTestUsecase(deps{triggers: triggers, records: records})

	if err := u.RollWindow(context.Background(), testRecord, testBody); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if triggers.createCalls != 0 || records.upsertCalls != 0 {
		t.Errorf("create calls = %d, upsert calls = %d, want 0/0", triggers.createCalls, records.upsertCalls)
	}
}

func TestRollWindow_AdvancesWindowByOneAndSevenDays(t *testing.T) {
	var payload domain.TriggerPayload
	triggers := &fakeTriggers{
		create: func(_ context.Context, _ time.Time, _ string, p domain.TriggerPayload, _ string) (string, error) {
			payload = p
			return "evt-new", nil
		},
	}
	records := existingRecord()
	var hourArgs, minuteArgs [2]int
	u := newTestUsecase(deps{triggers: triggers, records: records})
	calls := 0
	u.randInt = func(min, max int) int {
		if calls == 0 {
			hourArgs = [2]int{min, max}
		} else {
			minuteArgs = [2]int{min, max}
		}
		calls++
		return max
	}

	if err := u.RollWindow(context.Background(), testRecord, testBody); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Preference hour for Wednesday is 9, so the drawn hour range is [0,8].
	if hourArgs != [2]int{0, 8} {
		t.Errorf("hour range = %v, want [0 8]", hourArgs)
	}
	if minuteArgs != [2]int{0, 59} {
		t.Errorf("minute range = %v, want [0 59]", minuteArgs)
	}

	if payload.Body.WindowStartDate != "2024-09-06T08:59:00Z" {
		t.Errorf("new start = %s, want old start +1d at 08:59", payload.Body.WindowStartDate)
	}
	if payload.Body.WindowEndDate != "2024-09-12T08:59:00Z" {
		t.Errorf("new end = %s, want old start +7d at 08:59", payload.Body.WindowEndDate)
	}
	if !payload.Autopilot.ScheduleAt.Equal(time.Date(2024, 9, 6, 8, 59, 0, 0, time.UTC)) {
		t.Errorf("scheduleAt = %s", payload.Autopilot.ScheduleAt)
	}
}

func TestRollWindow_FiresFeaturesApplyForCurrentWindow(t *testing.T) {
	features := &fakeFeatures{}
	u := newTestUsecase(deps{records: existingRecord(), features: features})

	if err := u.RollWindow(context.Background(), testRecord, testBody); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if features.calls != 1 {
		t.Errorf("features apply calls = %d, want 1", features.calls)
	}
}

func TestRollWindow_FeaturesApplyFailureDoesNotAbort(t *testing.T) {
	features := &fakeFeatures{
		apply: func(context.Context, domain.WindowPayload) error {
			return domain.HTTPFault(500, "FeaturesApply", nil)
		},
	}
	records := existingRecord()
	u := newTestUsecase(deps{records: records, features: features})

	if err := u.RollWindow(context.Background(), testRecord, testBody); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if records.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, want 1", records.upsertCalls)
	}
}

func TestRollWindow_MissingPreferenceDayFails(t *testing.T) {
	prefs := &fakePrefs{
		forUser: func(_ context.Context, userID string) (*domain.SchedulingPreference, error) {
			return &domain.SchedulingPreference{
				UserID:     userID,
				StartTimes: []domain.StartTime{{Day: 1, Hour: 9}},
			}, nil
		},
	}
	triggers := &fakeTriggers{}
	u := newTestUsecase(deps{records: existingRecord(), prefs: prefs, triggers: triggers})

	err := u.RollWindow(context.Background(), testRecord, testBody)
	if err == nil || !strings.Contains(err.Error(), "no applicable start time") {
		t.Errorf("error = %v, want no-applicable-start-time", err)
	}
	if triggers.createCalls != 0 {
		t.Errorf("create calls = %d, want 0", triggers.createCalls)
	}
}

func TestRollWindow_OldRecordDeleteFailureTolerated(t *testing.T) {
	records := existingRecord()
	records.delete = func(context.Context, string) (*domain.AutopilotRecord, error) {
		return nil, domain.HTTPFault(500, "DeleteAutopilot", nil)
	}
	u := newTestUsecase(deps{records: records})

	if err := u.RollWindow(context.Background(), testRecord, testBody); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if records.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, want 1", records.upsertCalls)
	}
	if len(records.deleteCalls) != 1 || records.deleteCalls[0] != "evt-old" {
		t.Errorf("delete calls = %v, want [evt-old]", records.deleteCalls)
	}
}

func TestRollWindow_FatalUpsertSendsAlert(t *testing.T) {
	records := existingRecord()
	records.upsert = func(context.Context, *domain.AutopilotRecord) (*domain.AutopilotRecord, error) {
		return nil, domain.HTTPFault(500, "UpsertAutopilot", nil)
	}
	alerts := &fakeAlerts{}
	u := newTestUsecase(deps{records: records, alerts: alerts})

	err := u.RollWindow(context.Background(), testRecord, testBody)
	if code := faultCode(t, err); code != domain.CodeUpsertAutopilot {
		t.Errorf("code = %s, want %s", code, domain.CodeUpsertAutopilot)
	}
	if len(alerts.sent) != 1 {
		t.Errorf("alert emails = %d, want 1", len(alerts.sent))
	}
}

// ---- SeedInitialWindow ----

func TestSeedInitialWindow_RollsZeroAndSixDaysWithoutCleanup(t *testing.T) {
	var payload domain.TriggerPayload
	triggers := &fakeTriggers{
		create: func(_ context.Context, _ time.Time, _ string, p domain.TriggerPayload, _ string) (string, error) {
			payload = p
			return "evt-new", nil
		},
	}
	records := &fakeRecords{}
	u := newTestUsecase(deps{triggers: triggers, records: records})
	u.randInt = func(min, _ int) int { return min }

	if err := u.SeedInitialWindow(context.Background(), testRecord, testBody); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// randInt pinned to min: hour 0, minute 0.
	if payload.Body.WindowStartDate != "2024-09-05T00:00:00Z" {
		t.Errorf("new start = %s, want same day at 00:00", payload.Body.WindowStartDate)
	}
	if payload.Body.WindowEndDate != "2024-09-11T00:00:00Z" {
		t.Errorf("new end = %s, want +6d at 00:00", payload.Body.WindowEndDate)
	}
	if len(records.deleteCalls) != 0 {
		t.Errorf("delete calls = %v, want none", records.deleteCalls)
	}
	if records.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, want 1", records.upsertCalls)
	}
}
