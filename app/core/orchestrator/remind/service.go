package remind

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"minuteman/app/core/orchestrator/task"
)

// Notifier requests one outbound notification per overdue task. Delivery is
// the transport's concern; the sweep only issues the request.
type Notifier interface {
	NotifyOverdue(ctx context.Context, t task.Task) error
}

// Service runs the scheduled overdue sweep. It only reads task state; the
// write path of the core is never touched from here.
type Service struct {
	tasks    *task.Store
	notifier Notifier
	spec     cronSpec

	lastFired time.Time
}

func NewService(tasks *task.Store, notifier Notifier, spec string) (*Service, error) {
	parsed, err := parseCronSpec(spec)
	if err != nil {
		return nil, err
	}
	return &Service{tasks: tasks, notifier: notifier, spec: parsed}, nil
}

// Run blocks until the context is canceled, firing the sweep on matching
// minutes at most once per minute.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Service) tick(ctx context.Context, now time.Time) {
	minute := now.Truncate(time.Minute)
	if minute.Equal(s.lastFired) {
		return
	}
	if !s.spec.matches(minute) {
		return
	}
	s.lastFired = minute
	s.Sweep(ctx)
}

// Sweep queries every overdue task and requests a notification for each.
// Notification failures are logged and do not stop the remaining ones.
func (s *Service) Sweep(ctx context.Context) {
	items, err := s.tasks.ListOverdueAll(ctx)
	if err != nil {
		log.Printf("[Remind] overdue query failed: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}
	log.Printf("[Remind] %d overdue task(s)", len(items))
	for _, t := range items {
		if err := s.notifier.NotifyOverdue(ctx, t); err != nil {
			log.Printf("[Remind] notify failed for task %d: %v", t.ID, err)
		}
	}
}

// cronSpec is a five-field cron expression (minute hour day month weekday)
// supporting *, */step, ranges, lists and plain values.
type cronSpec struct {
	fields [5]func(int) bool
}

func parseCronSpec(raw string) (cronSpec, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) != 5 {
		return cronSpec{}, fmt.Errorf("invalid cron spec: %s", raw)
	}
	var spec cronSpec
	for i, f := range fields {
		minValue, maxValue := cronFieldBounds(i)
		matcher, err := parseCronField(f, minValue, maxValue)
		if err != nil {
			return cronSpec{}, fmt.Errorf("invalid cron field %d: %w", i+1, err)
		}
		spec.fields[i] = matcher
	}
	return spec, nil
}

func (c cronSpec) matches(t time.Time) bool {
	values := []int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, matcher := range c.fields {
		if !matcher(values[i]) {
			return false
		}
	}
	return true
}

func cronFieldBounds(index int) (int, int) {
	switch index {
	case 0:
		return 0, 59
	case 1:
		return 0, 23
	case 2:
		return 1, 31
	case 3:
		return 1, 12
	default:
		return 0, 6
	}
}

func parseCronField(raw string, boundsMin int, boundsMax int) (func(int) bool, error) {
	field := strings.TrimSpace(raw)
	if field == "*" {
		return func(v int) bool { return v >= boundsMin && v <= boundsMax }, nil
	}
	if strings.HasPrefix(field, "*/") {
		stepText := strings.TrimPrefix(field, "*/")
		step, err := strconv.Atoi(stepText)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step: %s", field)
		}
		return func(v int) bool {
			if v < boundsMin || v > boundsMax {
				return false
			}
			return (v-boundsMin)%step == 0
		}, nil
	}
	if strings.Contains(field, ",") {
		parts := strings.Split(field, ",")
		matchers := make([]func(int) bool, 0, len(parts))
		for _, part := range parts {
			m, err := parseCronField(part, boundsMin, boundsMax)
			if err != nil {
				return nil, err
			}
			matchers = append(matchers, m)
		}
		return func(v int) bool {
			for _, m := range matchers {
				if m(v) {
					return true
				}
			}
			return false
		}, nil
	}
	if strings.Contains(field, "-") {
		parts := strings.SplitN(field, "-", 2)
		low, errLow := strconv.Atoi(parts[0])
		high, errHigh := strconv.Atoi(parts[1])
		if errLow != nil || errHigh != nil || low > high {
			return nil, fmt.Errorf("invalid range: %s", field)
		}
		if low < boundsMin || high > boundsMax {
			return nil, fmt.Errorf("range out of bounds: %s", field)
		}
		return func(v int) bool { return v >= low && v <= high }, nil
	}
	value, err := strconv.Atoi(field)
	if err != nil {
		return nil, fmt.Errorf("unsupported field: %s", field)
	}
	if value < boundsMin || value > boundsMax {
		return nil, fmt.Errorf("value out of range: %s", field)
	}
	return func(v int) bool { return v == value }, nil
}
