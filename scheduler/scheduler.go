package scheduler

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"chumtheme/model"
)

// Runner performs one scheduled repository refresh.
type Runner func(ctx context.Context) (*model.RefreshResult, error)

type Scheduler struct {
	mu         sync.Mutex
	schedules  []model.Schedule
	lastRun    map[string]time.Time
	runner     Runner
	onUpdate   func(lastRun map[string]time.Time)
	onComplete func(id string, res *model.RefreshResult)
	tick       time.Duration

	// running holds schedules with a run in flight; failed holds the time of
	// each schedule's last failed run, which is not retried before retry passes.
	running map[string]bool
	failed  map[string]time.Time
	retry   time.Duration
}

// New creates a scheduler. lastRun seeds the per-schedule run times, usually
// from the saved config, so a restart does not rerun a daily schedule.
func New(runner Runner, initial []model.Schedule, lastRun map[string]time.Time) *Scheduler {
	s := &Scheduler{
		schedules: append([]model.Schedule(nil), initial...),
		lastRun:   make(map[string]time.Time, len(lastRun)),
		runner:    runner,
		tick:      30 * time.Second,
		running:   make(map[string]bool),
		failed:    make(map[string]time.Time),
		retry:     5 * time.Minute,
	}
	for k, v := range lastRun {
		s.lastRun[k] = v
	}
	return s
}

// SetOnUpdate registers fn to receive a copy of the run times after every
// successful run, for persisting.
func (s *Scheduler) SetOnUpdate(fn func(lastRun map[string]time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// SetOnComplete registers fn to run after every successful run.
func (s *Scheduler) SetOnComplete(fn func(id string, res *model.RefreshResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		log.Println("[scheduler] started")
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[scheduler] stopped")
				return
			case now := <-ticker.C:
				s.check(ctx, now)
			}
		}
	}()
}

func (s *Scheduler) check(ctx context.Context, now time.Time) {
	s.mu.Lock()
	scheds := make([]model.Schedule, len(s.schedules))
	copy(scheds, s.schedules)
	last := make(map[string]time.Time, len(s.lastRun))
	for k, v := range s.lastRun {
		last[k] = v
	}

	var due []string
	for _, sc := range scheds {
		if !sc.Enabled || sc.ID == "" || s.running[sc.ID] {
			continue
		}
		if failedAt, ok := s.failed[sc.ID]; ok && now.Sub(failedAt) < s.retry {
			continue
		}
		if !shouldRun(sc, last[sc.ID], now) {
			continue
		}
		s.running[sc.ID] = true
		due = append(due, sc.ID)
	}
	s.mu.Unlock()

	for _, id := range due {
		go s.runOnce(ctx, id, now)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, id string, now time.Time) {
	log.Printf("[scheduler] running %s", id)
	res, err := s.runner(ctx)
	if err != nil {
		log.Printf("[scheduler] run %s failed, retrying in %s: %v", id, s.retry, err)
		s.mu.Lock()
		delete(s.running, id)
		s.failed[id] = now
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	delete(s.running, id)
	delete(s.failed, id)
	s.lastRun[id] = now
	snapshot := make(map[string]time.Time, len(s.lastRun))
	for k, v := range s.lastRun {
		snapshot[k] = v
	}
	onUpdate, onComplete := s.onUpdate, s.onComplete
	s.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snapshot)
	}
	if onComplete != nil {
		onComplete(id, res)
	}
}

func shouldRun(sc model.Schedule, lastRun time.Time, now time.Time) bool {
	switch sc.Type {
	case model.ScheduleInterval:
		if sc.Every == "" {
			return false
		}
		dur, err := time.ParseDuration(sc.Every)
		if err != nil || dur <= 0 {
			return false
		}
		if lastRun.IsZero() {
			return true
		}
		return now.Sub(lastRun) >= dur

	case model.ScheduleDaily:
		hour, min, ok := ParseTimeOfDay(sc.TimeOfDay)
		if !ok {
			return false
		}

		loc := now.Location()
		target := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, loc)

		if now.Before(target) {
			return false
		}
		if !lastRun.IsZero() && sameDay(lastRun.In(loc), now) {
			return false
		}
		return true

	default:
		return false
	}
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (hour, min int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	hour, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, false
	}
	return hour, min, true
}

// Valid reports whether a schedule can ever fire.
func Valid(sc model.Schedule) bool {
	switch sc.Type {
	case model.ScheduleInterval:
		dur, err := time.ParseDuration(sc.Every)
		return err == nil && dur > 0
	case model.ScheduleDaily:
		_, _, ok := ParseTimeOfDay(sc.TimeOfDay)
		return ok
	}
	return false
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func (s *Scheduler) Schedules() []model.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Schedule, len(s.schedules))
	copy(out, s.schedules)
	return out
}

func (s *Scheduler) SetSchedules(scheds []model.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules = make([]model.Schedule, len(scheds))
	copy(s.schedules, scheds)
	ids := make(map[string]bool, len(scheds))
	keep := make(map[string]time.Time, len(s.lastRun))
	for _, sc := range scheds {
		ids[sc.ID] = true
		if t, ok := s.lastRun[sc.ID]; ok {
			keep[sc.ID] = t
		}
	}
	s.lastRun = keep
	for id := range s.failed {
		if !ids[id] {
			delete(s.failed, id)
		}
	}
}

// LastRun returns a copy of the per-schedule run times.
func (s *Scheduler) LastRun() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.lastRun))
	for k, v := range s.lastRun {
		out[k] = v
	}
	return out
}
