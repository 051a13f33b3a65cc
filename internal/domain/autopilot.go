package domain

import (
	"errors"
	"time"
)

var (
	ErrAutopilotNotFound = errors.New("autopilot not found")
	ErrNoStartTime       = errors.New("no applicable start time found")
)

// WindowPayload describes the span of time one autopilot cycle's downstream
// work applies to. It is stored verbatim on the AutopilotRecord and delivered
// back unchanged when the scheduled trigger fires.
type WindowPayload struct {
	UserID          string `json:"userId"`
	WindowStartDate string `json:"windowStartDate"` // local wall-clock, RFC3339
	WindowEndDate   string `json:"windowEndDate"`
	Timezone        string `json:"timezone"` // IANA name, e.g. America/Chicago
}

// AutopilotRecord is the persisted description of one user's recurring job.
// ID is always the identifier of the currently-active scheduled trigger: the
// two are 1:1, a record never outlives its trigger and vice versa. ScheduleAt
// is always derived from Payload.WindowStartDate converted to UTC.
type AutopilotRecord struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	ScheduleAt  time.Time     `json:"scheduleAt"`
	Timezone    string        `json:"timezone"`
	Payload     WindowPayload `json:"payload"`
	CreatedDate time.Time     `json:"createdDate"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// TriggerPayload is the body registered on a scheduled trigger and delivered
// back verbatim when it fires. The reschedule cycle consumes exactly this
// shape.
type TriggerPayload struct {
	Autopilot AutopilotRecord `json:"autopilot"`
	Body      WindowPayload   `json:"body"`
}

// StartTime is one entry of a user's preferred start window: the earliest
// hour/minute they want work to begin on a given ISO day of week (1=Monday).
type StartTime struct {
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// SchedulingPreference is read-only input owned by an external preference
// service; the scheduler only picks a start hour out of it.
type SchedulingPreference struct {
	UserID     string      `json:"userId"`
	StartTimes []StartTime `json:"startTimes"`
}

// StartHourFor returns the preferred start hour for the given ISO weekday,
// or ErrNoStartTime when the user has no entry for that day.
func (p *SchedulingPreference) StartHourFor(isoDay int) (int, error) {
	for _, st := range p.StartTimes {
		if st.Day == isoDay {
			return st.Hour, nil
		}
	}
	return 0, ErrNoStartTime
}
