package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
	"github.com/nexusflow/backend/pkg/utils"
)

// InstanceStarter starts flow instances
type InstanceStarter interface {
	StartInstance(ctx context.Context, req StartInstanceRequest) (*models.FlowInstance, error)
}

// SchedulerOptions configures the recurring trigger backend
type SchedulerOptions struct {
	Enabled     bool
	MaxAttempts int
	Backoff     time.Duration
	MaxRuntime  time.Duration
}

// ScheduleRequest describes a new recurring schedule
type ScheduleRequest struct {
	OrganizationID  string                           `json:"-"`
	TemplateID      string                           `json:"template_id" binding:"required"`
	Name            string                           `json:"name"`
	CronPattern     string                           `json:"cron_pattern" binding:"required"`
	Timezone        string                           `json:"timezone"`
	RoleAssignments map[string]models.RoleAssignment `json:"role_assignments"`
	KickoffData     map[string]interface{}           `json:"kickoff_data"`
}

// ScheduleHandle identifies a registered schedule. NoOp handles come from a
// disabled backend and are never fired.
type ScheduleHandle struct {
	ID      string       `json:"id"`
	EntryID cron.EntryID `json:"-"`
	NoOp    bool         `json:"no_op"`
}

// ScheduleInfo is a persisted schedule with its live registration state
type ScheduleInfo struct {
	*models.RecurringSchedule
	Registered bool `json:"registered"`
}

// SchedulerService fires flow instances from cron patterns
type SchedulerService struct {
	store   ports.FlowStore
	starter InstanceStarter
	opts    SchedulerOptions
	parser  cron.Parser
	cron    *cron.Cron

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	inFlight map[string]bool
	running  bool
	stopped  bool // Prevents a second Stop from waiting on a dead cron
	wg       sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(store ports.FlowStore, starter InstanceStarter, opts SchedulerOptions) *SchedulerService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.ScheduleDefaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Duration(constants.ScheduleDefaultBackoff) * time.Millisecond
	}
	if opts.MaxRuntime <= 0 {
		opts.MaxRuntime = time.Duration(constants.ScheduleMaxRuntimeMins) * time.Minute
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &SchedulerService{
		store:    store,
		starter:  starter,
		opts:     opts,
		parser:   parser,
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		entries:  make(map[string]cron.EntryID),
		inFlight: make(map[string]bool),
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether schedules actually fire
func (s *SchedulerService) Enabled() bool {
	return s.opts.Enabled
}

// Start begins firing registered schedules
func (s *SchedulerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	if !s.opts.Enabled {
		log.Println("⏰ Scheduler disabled; schedules are stored but never fired")
		return
	}
	s.running = true
	s.cron.Start()
	log.Printf("⏰ Scheduler service started with %d schedule(s)", len(s.entries))
}

// Stop halts the backend and waits for running jobs
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	log.Println("⏰ Scheduler service stopping...")
	<-s.cron.Stop().Done()
	s.wg.Wait()
	log.Println("⏰ Scheduler service stopped")
}

// Schedule validates and persists a recurring schedule and registers it
func (s *SchedulerService) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleHandle, error) {
	if strings.TrimSpace(req.TemplateID) == "" {
		return nil, apperrors.NewValidationError("template_id", "template is required")
	}
	tz := req.Timezone
	if tz == "" {
		tz = constants.ScheduleDefaultTimezone
	}
	next, err := s.nextRun(req.CronPattern, tz, s.now())
	if err != nil {
		return nil, err
	}

	tpl, err := s.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if req.OrganizationID != "" && tpl.OrganizationID != req.OrganizationID {
		return nil, apperrors.NewNotFoundError("FlowTemplate", req.TemplateID)
	}

	name := req.Name
	if name == "" {
		name = tpl.Name
	}
	schedule := &models.RecurringSchedule{
		ID:              utils.GenerateID(),
		OrganizationID:  tpl.OrganizationID,
		TemplateID:      tpl.ID,
		Name:            name,
		CronPattern:     strings.TrimSpace(req.CronPattern),
		Timezone:        tz,
		RoleAssignments: req.RoleAssignments,
		KickoffData:     req.KickoffData,
		Enabled:         true,
		NextRunAt:       &next,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	handle, err := s.register(schedule)
	if err != nil {
		return nil, err
	}
	log.Printf("⏰ Schedule %s registered for template %s (%s %s)", schedule.ID, tpl.ID, schedule.CronPattern, tz)
	return handle, nil
}

// Cancel unregisters and deletes a schedule. In no-op mode it never fails.
func (s *SchedulerService) Cancel(ctx context.Context, handle *ScheduleHandle) error {
	if handle == nil {
		return nil
	}
	s.mu.Lock()
	if entryID, ok := s.entries[handle.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, handle.ID)
	}
	s.mu.Unlock()

	err := s.store.DeleteSchedule(ctx, handle.ID)
	if err == nil || apperrors.IsNotFound(err) {
		return nil
	}
	if !s.opts.Enabled || handle.NoOp {
		log.Printf("⚠️ Failed to delete schedule %s: %v", handle.ID, err)
		return nil
	}
	return err
}

// List returns the schedules of a template
func (s *SchedulerService) List(ctx context.Context, templateID string) ([]ScheduleInfo, error) {
	schedules, err := s.store.ListSchedules(ctx, templateID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(schedules))
	for _, sch := range schedules {
		info := ScheduleInfo{RecurringSchedule: sch}
		if entryID, ok := s.entries[sch.ID]; ok {
			info.Registered = true
			if next := s.cron.Entry(entryID).Next; !next.IsZero() {
				n := next.UTC()
				info.NextRunAt = &n
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// RestoreSchedules registers every enabled persisted schedule. Invalid ones
// are logged and skipped.
func (s *SchedulerService) RestoreSchedules(ctx context.Context) (int, error) {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, sch := range schedules {
		if _, err := s.register(sch); err != nil {
			log.Printf("⚠️ Skipping schedule %s: %v", sch.ID, err)
			continue
		}
		restored++
	}
	log.Printf("⏰ Restored %d of %d schedule(s)", restored, len(schedules))
	return restored, nil
}

func (s *SchedulerService) register(schedule *models.RecurringSchedule) (*ScheduleHandle, error) {
	if err := checkCronPattern(schedule.CronPattern); err != nil {
		return nil, err
	}
	spec := cronSpec(schedule.CronPattern, schedule.Timezone)
	if _, err := s.parser.Parse(spec); err != nil {
		return nil, apperrors.NewValidationError("cron_pattern", fmt.Sprintf("invalid cron expression: %v", err))
	}
	if !s.opts.Enabled {
		return &ScheduleHandle{ID: schedule.ID, NoOp: true}, nil
	}

	scheduleID := schedule.ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[scheduleID]; ok {
		s.cron.Remove(old)
	}
	entryID, err := s.cron.AddFunc(spec, func() { s.runJob(scheduleID) })
	if err != nil {
		return nil, apperrors.NewValidationError("cron_pattern", fmt.Sprintf("invalid cron expression: %v", err))
	}
	s.entries[scheduleID] = entryID
	return &ScheduleHandle{ID: scheduleID, EntryID: entryID}, nil
}

// runJob is the worker boundary: one run at a time per schedule, panics
// recovered, failures retried with exponential backoff.
func (s *SchedulerService) runJob(scheduleID string) {
	s.mu.Lock()
	if s.inFlight[scheduleID] {
		s.mu.Unlock()
		log.Printf("⏭️ Schedule %s is already running, skipping", scheduleID)
		return
	}
	s.inFlight[scheduleID] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("🔥 Panic in scheduled run %s: %v", scheduleID, r)
		}
		s.mu.Lock()
		delete(s.inFlight, scheduleID)
		s.mu.Unlock()
		s.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.MaxRuntime)
	defer cancel()

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := s.ProcessScheduledRun(ctx, scheduleID)
		if err == nil {
			return
		}
		log.Printf("❌ Scheduled run %s failed (attempt %d/%d): %v", scheduleID, attempt, s.opts.MaxAttempts, err)
		if attempt == s.opts.MaxAttempts {
			return
		}
		delay := s.opts.Backoff * time.Duration(1<<uint(attempt-1))
		if err := s.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// ProcessScheduledRun starts one instance for a schedule. Templates that
// cannot run and orgs without users abort with a warning, not an error.
func (s *SchedulerService) ProcessScheduledRun(ctx context.Context, scheduleID string) error {
	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Printf("⚠️ Schedule %s no longer exists, skipping", scheduleID)
			return nil
		}
		return err
	}
	if !schedule.Enabled {
		return nil
	}

	tpl, err := s.store.GetTemplate(ctx, schedule.TemplateID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Printf("⚠️ Schedule %s: template %s not found, skipping", scheduleID, schedule.TemplateID)
			return nil
		}
		return err
	}
	if tpl.Status != constants.TemplateStatusActive || len(tpl.Definition.Steps) == 0 {
		log.Printf("⚠️ Schedule %s: template %s is %s with %d step(s), skipping", scheduleID, tpl.ID, tpl.Status, len(tpl.Definition.Steps))
		return nil
	}

	user, err := s.store.FindAttributingUser(ctx, schedule.OrganizationID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Printf("⚠️ Schedule %s: organization %s has no users to attribute the run to, skipping", scheduleID, schedule.OrganizationID)
			return nil
		}
		return err
	}

	now := s.now()
	userID := user.ID
	instance, err := s.starter.StartInstance(ctx, StartInstanceRequest{
		TemplateID:      tpl.ID,
		OrganizationID:  schedule.OrganizationID,
		Name:            fmt.Sprintf("%s - %s", schedule.Name, now.Format("2006-01-02 15:04")),
		RoleAssignments: schedule.RoleAssignments,
		KickoffData:     schedule.KickoffData,
		TriggerSource:   constants.TriggerSourceSchedule,
		StartedByID:     &userID,
	})
	if err != nil {
		return fmt.Errorf("failed to start instance: %w", err)
	}

	instanceID := instance.ID
	if err := s.store.AppendAudit(ctx, &models.AuditEntry{
		ID:             utils.GenerateID(),
		OrganizationID: schedule.OrganizationID,
		InstanceID:     &instanceID,
		Action:         constants.AuditScheduledRun,
		ActorID:        &userID,
		Details:        map[string]interface{}{"schedule_id": schedule.ID, "template_id": tpl.ID},
		CreatedAt:      now,
	}); err != nil {
		log.Printf("⚠️ Failed to write audit for scheduled run %s: %v", scheduleID, err)
	}

	var next *time.Time
	if n, err := s.nextRun(schedule.CronPattern, schedule.Timezone, now); err == nil {
		next = &n
	}
	if err := s.store.UpdateScheduleRun(ctx, schedule.ID, &now, next); err != nil {
		log.Printf("⚠️ Failed to update run times of schedule %s: %v", scheduleID, err)
	}

	log.Printf("✅ Scheduled run %s started instance %s", scheduleID, instance.ID)
	return nil
}

// nextRun validates the pattern and timezone and returns the next fire time in UTC
func (s *SchedulerService) nextRun(pattern, timezone string, from time.Time) (time.Time, error) {
	if strings.TrimSpace(pattern) == "" {
		return time.Time{}, apperrors.NewValidationError("cron_pattern", "cron pattern is required")
	}
	if err := checkCronPattern(pattern); err != nil {
		return time.Time{}, err
	}
	if timezone != "" && timezone != constants.ScheduleDefaultTimezone {
		if _, err := time.LoadLocation(timezone); err != nil {
			return time.Time{}, apperrors.NewValidationError("timezone", fmt.Sprintf("unknown timezone %q", timezone))
		}
	}
	sched, err := s.parser.Parse(cronSpec(pattern, timezone))
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("cron_pattern", fmt.Sprintf("invalid cron expression: %v", err))
	}
	return sched.Next(from).UTC(), nil
}

// checkCronPattern accepts only plain 5-field expressions. Descriptors such as
// @every are refused and the timezone comes from the schedule, never the pattern.
func checkCronPattern(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	for _, prefix := range []string{"@", "CRON_TZ=", "TZ="} {
		if strings.HasPrefix(strings.ToUpper(pattern), prefix) {
			return apperrors.NewValidationError("cron_pattern", fmt.Sprintf("cron pattern must be a 5-field expression, got %q", pattern))
		}
	}
	return nil
}

// cronSpec prefixes the pattern with CRON_TZ unless it is UTC
func cronSpec(pattern, timezone string) string {
	pattern = strings.TrimSpace(pattern)
	if timezone == "" || timezone == constants.ScheduleDefaultTimezone {
		return pattern
	}
	return "CRON_TZ=" + timezone + " " + pattern
}
