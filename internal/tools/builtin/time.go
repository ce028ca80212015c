package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

const DefaultTimezone = "Asia/Jerusalem"

type TimeParams struct {
	Timezone string `json:"timezone,omitempty" jsonschema_description:"Timezone name (e.g., 'UTC', 'America/New_York', 'Asia/Jerusalem')"`
}

type TimeResult struct {
	Status   string `json:"status"`
	Datetime string `json:"datetime"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Day      string `json:"day"`
	Timezone string `json:"timezone"`
}

// CurrentTimeTool reports the wall clock in a named IANA zone.
type CurrentTimeTool struct {
	zone   string
	now    func() time.Time
	schema json.RawMessage
}

type TimeOption func(*CurrentTimeTool)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TimeOption {
	return func(t *CurrentTimeTool) { t.now = now }
}

func NewCurrentTimeTool(defaultZone string, opts ...TimeOption) *CurrentTimeTool {
	if strings.TrimSpace(defaultZone) == "" {
		defaultZone = DefaultTimezone
	}
	t := &CurrentTimeTool{
		zone:   defaultZone,
		now:    time.Now,
		schema: reflectSchema(&TimeParams{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *CurrentTimeTool) Name() string { return "get_current_time" }

func (t *CurrentTimeTool) Description() string {
	return fmt.Sprintf("Get the current date and time. Default timezone is %s.", t.zone)
}

func (t *CurrentTimeTool) Schema() json.RawMessage { return t.schema }

func (t *CurrentTimeTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var input TimeParams
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	name := strings.TrimSpace(input.Timezone)
	if name == "" {
		name = t.zone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", name)
	}
	now := t.now().In(loc)
	return TimeResult{
		Status:   "success",
		Datetime: now.Format(time.RFC3339),
		Date:     now.Format("2006-01-02"),
		Time:     now.Format("15:04:05"),
		Day:      now.Weekday().String(),
		Timezone: name,
	}, nil
}
