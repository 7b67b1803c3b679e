package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/engine"
)

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronExpression возвращает cron-выражение повторов расписания.
//
// Явный CronExpr используется как есть. Иначе выражение строится из
// PointerDate в timezone расписания:
//   - DAILY   — каждый день в час и минуту PointerDate
//   - WEEKLY  — в день недели PointerDate
//   - MONTHLY — в число месяца PointerDate (месяцы без этого числа пропускаются)
//
// Для ONCE повторов нет, возвращается пустая строка.
func CronExpression(sched *domain.ScheduledWorkflow) (string, error) {
	if sched.CronExpr != "" {
		return sched.CronExpr, nil
	}

	p := sched.PointerDate.In(location(sched.Timezone))
	switch sched.Frequency {
	case domain.FrequencyOnce:
		return "", nil
	case domain.FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", p.Minute(), p.Hour()), nil
	case domain.FrequencyWeekly:
		return fmt.Sprintf("%d %d * * %d", p.Minute(), p.Hour(), int(p.Weekday())), nil
	case domain.FrequencyMonthly:
		return fmt.Sprintf("%d %d %d * *", p.Minute(), p.Hour(), p.Day()), nil
	default:
		return "", fmt.Errorf("unknown frequency %q", sched.Frequency)
	}
}

// NextDue вычисляет время запуска после from. Для ONCE возвращает nil:
// после срабатывания расписание выключается.
//
// Учитывает timezone расписания.
func NextDue(sched *domain.ScheduledWorkflow, from time.Time) (*time.Time, error) {
	expr, err := CronExpression(sched)
	if err != nil {
		return nil, err
	}
	if expr == "" {
		return nil, nil
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}

	next := schedule.Next(from.In(location(sched.Timezone))).UTC() // в UTC для хранения в БД
	return &next, nil
}

// InitialNextDue вычисляет первое время запуска нового или изменённого расписания.
//
// Будущая PointerDate и есть первый запуск. Прошедшая PointerDate для ONCE
// означает запуск на ближайшем тике, для повторов — следующий слот после now.
func InitialNextDue(sched *domain.ScheduledWorkflow, now time.Time) (*time.Time, error) {
	if sched.PointerDate.After(now) {
		first := sched.PointerDate.UTC()
		return &first, nil
	}
	if sched.CronExpr == "" && sched.Frequency == domain.FrequencyOnce {
		first := now.UTC()
		return &first, nil
	}
	return NextDue(sched, now)
}

// ValidateSchedule проверяет содержимое расписания.
func ValidateSchedule(sched *domain.ScheduledWorkflow) error {
	if sched.DatasetID == "" {
		return engine.NewValidationError("", "dataset_id", "dataset id is required", engine.ErrBadContent)
	}
	if sched.PointerDate.IsZero() {
		return engine.NewValidationError("", "pointer_date", "pointer date is required", engine.ErrBadContent)
	}
	if !sched.Frequency.IsValid() {
		return engine.NewValidationError("", "frequency",
			fmt.Sprintf("%q is not a valid schedule frequency", sched.Frequency), engine.ErrBadContent)
	}
	if sched.CronExpr != "" {
		if err := ValidateCronExpr(sched.CronExpr); err != nil {
			return engine.NewValidationError("", "cron_expr", err.Error(), engine.ErrBadContent)
		}
	}
	if sched.Timezone != "" {
		if _, err := time.LoadLocation(sched.Timezone); err != nil {
			return engine.NewValidationError("", "timezone",
				fmt.Sprintf("unknown timezone %q", sched.Timezone), engine.ErrBadContent)
		}
	}
	return nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// location загружает timezone, при ошибке — UTC.
func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
