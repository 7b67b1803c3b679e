package scheduler

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/engine"
)

// pointer — понедельник 2026-01-05 09:30 UTC.
var pointer = time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)

func TestNextDue(t *testing.T) {
	from := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) // вторник

	tests := []struct {
		name  string
		sched domain.ScheduledWorkflow
		want  *time.Time
	}{
		{
			name:  "once has no next run",
			sched: domain.ScheduledWorkflow{PointerDate: pointer, Frequency: domain.FrequencyOnce},
			want:  nil,
		},
		{
			name:  "daily",
			sched: domain.ScheduledWorkflow{PointerDate: pointer, Frequency: domain.FrequencyDaily},
			want:  ptr(time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)),
		},
		{
			name:  "weekly keeps weekday",
			sched: domain.ScheduledWorkflow{PointerDate: pointer, Frequency: domain.FrequencyWeekly},
			want:  ptr(time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC)),
		},
		{
			name:  "monthly keeps day of month",
			sched: domain.ScheduledWorkflow{PointerDate: pointer, Frequency: domain.FrequencyMonthly},
			want:  ptr(time.Date(2026, 4, 5, 9, 30, 0, 0, time.UTC)),
		},
		{
			name: "daily in timezone",
			sched: domain.ScheduledWorkflow{
				PointerDate: time.Date(2026, 1, 5, 9, 30, 0, 0, mustLocation(t, "Europe/Amsterdam")),
				Frequency:   domain.FrequencyDaily,
				Timezone:    "Europe/Amsterdam",
			},
			want: ptr(time.Date(2026, 3, 11, 8, 30, 0, 0, time.UTC)),
		},
		{
			name: "cron expression overrides frequency",
			sched: domain.ScheduledWorkflow{
				PointerDate: pointer,
				Frequency:   domain.FrequencyOnce,
				CronExpr:    "0 */6 * * *",
			},
			want: ptr(time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDue(&tt.sched, from)
			if err != nil {
				t.Fatalf("NextDue() error = %v", err)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("NextDue() = %v, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("NextDue() = nil, want %v", *tt.want)
			case tt.want != nil && !got.Equal(*tt.want):
				t.Errorf("NextDue() = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func TestInitialNextDue(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	future := domain.ScheduledWorkflow{PointerDate: now.Add(48 * time.Hour), Frequency: domain.FrequencyDaily}
	got, err := InitialNextDue(&future, now)
	if err != nil || got == nil || !got.Equal(future.PointerDate) {
		t.Errorf("future pointer: got %v, %v; want %v", got, err, future.PointerDate)
	}

	pastOnce := domain.ScheduledWorkflow{PointerDate: pointer, Frequency: domain.FrequencyOnce}
	got, err = InitialNextDue(&pastOnce, now)
	if err != nil || got == nil || !got.Equal(now) {
		t.Errorf("past once: got %v, %v; want %v", got, err, now)
	}

	pastDaily := domain.ScheduledWorkflow{PointerDate: pointer, Frequency: domain.FrequencyDaily}
	got, err = InitialNextDue(&pastDaily, now)
	want := time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)
	if err != nil || got == nil || !got.Equal(want) {
		t.Errorf("past daily: got %v, %v; want %v", got, err, want)
	}
}

func TestValidateSchedule(t *testing.T) {
	valid := domain.ScheduledWorkflow{DatasetID: "ds-1", PointerDate: pointer, Frequency: domain.FrequencyWeekly}

	tests := []struct {
		name   string
		modify func(s *domain.ScheduledWorkflow)
		field  string
	}{
		{"valid", func(*domain.ScheduledWorkflow) {}, ""},
		{"missing dataset", func(s *domain.ScheduledWorkflow) { s.DatasetID = "" }, "dataset_id"},
		{"missing pointer date", func(s *domain.ScheduledWorkflow) { s.PointerDate = time.Time{} }, "pointer_date"},
		{"invalid frequency", func(s *domain.ScheduledWorkflow) { s.Frequency = "NULL" }, "frequency"},
		{"invalid cron", func(s *domain.ScheduledWorkflow) { s.CronExpr = "every day" }, "cron_expr"},
		{"unknown timezone", func(s *domain.ScheduledWorkflow) { s.Timezone = "Mars/Olympus" }, "timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.modify(&s)

			err := ValidateSchedule(&s)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("ValidateSchedule() error = %v", err)
				}
				return
			}

			if !errors.Is(err, engine.ErrBadContent) {
				t.Fatalf("ValidateSchedule() error = %v, want ErrBadContent", err)
			}
			var vErr *engine.ValidationError
			if !errors.As(err, &vErr) || vErr.Field != tt.field {
				t.Errorf("ValidateSchedule() field = %v, want %q", err, tt.field)
			}
		})
	}
}

func ptr(t time.Time) *time.Time {
	return &t
}

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}
