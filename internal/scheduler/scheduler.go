package scheduler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// scheduledEventName is the callback event every schedule fires.
const scheduledEventName = "onScheduledEvent"

// Manager owns schedule persistence, the timers that arm one-shot
// schedules, and the cron runner behind recurring ones. Firing posts a
// product event back into the local dispatcher's execute endpoint.
type Manager struct {
	store   *Store
	cron    *cron.Cron
	fireURL string
	client  *http.Client
	logger  zerolog.Logger

	mu      sync.Mutex
	timers  map[Key]*time.Timer
	entries map[Key]cron.EntryID
	running bool
}

// NewManager creates a schedule manager. fireURL is the dispatcher's
// event-execute endpoint.
func NewManager(store *Store, fireURL string, logger zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		cron:    cron.New(),
		fireURL: fireURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		timers:  make(map[Key]*time.Timer),
		entries: make(map[Key]cron.EntryID),
	}
}

// Start loads persisted schedules and arms them. One-shot schedules whose
// firing time has already passed are dropped rather than fired late.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("scheduler: already running")
	}

	schedules, err := m.store.List()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, sched := range schedules {
		if !sched.Recurring() && sched.ScheduleAt.Before(now) {
			m.logger.Warn().Str("name", sched.Name).Str("product", sched.Product).
				Msg("dropping past-due schedule")
			_ = m.store.Delete(sched.Key())
			continue
		}
		if err := m.armLocked(sched); err != nil {
			m.logger.Error().Err(err).Str("name", sched.Name).Msg("failed to arm schedule")
		}
	}

	m.cron.Start()
	m.running = true
	m.logger.Info().Int("schedules", len(m.timers)+len(m.entries)).Msg("scheduler started")
	return nil
}

// Stop disarms everything and stops the cron runner.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	for key, timer := range m.timers {
		timer.Stop()
		delete(m.timers, key)
	}
	for key, id := range m.entries {
		m.cron.Remove(id)
		delete(m.entries, key)
	}
	m.cron.Stop()
	m.running = false
	m.logger.Info().Msg("scheduler stopped")
}

// Create validates, persists, and arms a new schedule.
func (m *Manager) Create(sched *Schedule) error {
	if err := sched.Validate(time.Now()); err != nil {
		return err
	}
	if sched.Recurring() {
		if _, err := cron.ParseStandard(sched.CronExpression); err != nil {
			return &ValidationError{Field: "cron_expression", Message: err.Error()}
		}
		has, err := m.store.HasRecurring(sched.Product)
		if err != nil {
			return err
		}
		if has {
			return ErrRecurringExists
		}
	}

	if err := m.store.Create(sched); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		if err := m.armLocked(sched); err != nil {
			return err
		}
	}
	m.logger.Info().Str("name", sched.Name).Str("product", sched.Product).
		Bool("recurring", sched.Recurring()).Msg("schedule created")
	return nil
}

// Fetch returns the schedule stored under key.
func (m *Manager) Fetch(key Key) (*Schedule, error) {
	return m.store.Get(key)
}

// Update validates and replaces an existing schedule, rearming it.
func (m *Manager) Update(sched *Schedule) error {
	if err := sched.Validate(time.Now()); err != nil {
		return err
	}
	if sched.Recurring() {
		if _, err := cron.ParseStandard(sched.CronExpression); err != nil {
			return &ValidationError{Field: "cron_expression", Message: err.Error()}
		}
		existing, err := m.store.Get(sched.Key())
		if err != nil {
			return err
		}
		if !existing.Recurring() {
			has, err := m.store.HasRecurring(sched.Product)
			if err != nil {
				return err
			}
			if has {
				return ErrRecurringExists
			}
		}
	}

	if err := m.store.Update(sched); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked(sched.Key())
	if m.running {
		if err := m.armLocked(sched); err != nil {
			return err
		}
	}
	return nil
}

// Delete disarms and removes the schedule stored under key.
func (m *Manager) Delete(key Key) error {
	m.mu.Lock()
	m.disarmLocked(key)
	m.mu.Unlock()

	if err := m.store.Delete(key); err != nil {
		return err
	}
	m.logger.Info().Str("name", key.Name).Str("product", key.Product).Msg("schedule deleted")
	return nil
}

// List returns every persisted schedule.
func (m *Manager) List() ([]*Schedule, error) {
	return m.store.List()
}

// armLocked registers the firing mechanism for a schedule. Caller holds m.mu.
func (m *Manager) armLocked(sched *Schedule) error {
	key := sched.Key()

	if sched.Recurring() {
		id, err := m.cron.AddFunc(sched.CronExpression, func() {
			m.fire(key, false)
		})
		if err != nil {
			return err
		}
		m.entries[key] = id
		return nil
	}

	delay := time.Until(*sched.ScheduleAt)
	m.timers[key] = time.AfterFunc(delay, func() {
		m.fire(key, true)
	})
	return nil
}

// disarmLocked cancels any pending firing for key. Caller holds m.mu.
func (m *Manager) disarmLocked(key Key) {
	if timer, ok := m.timers[key]; ok {
		timer.Stop()
		delete(m.timers, key)
	}
	if id, ok := m.entries[key]; ok {
		m.cron.Remove(id)
		delete(m.entries, key)
	}
}

// fire posts the schedule's payload to the dispatcher as a product event.
// One-shot schedules are deleted afterwards.
func (m *Manager) fire(key Key, oneShot bool) {
	sched, err := m.store.Get(key)
	if err != nil {
		m.logger.Warn().Err(err).Str("name", key.Name).Msg("schedule vanished before firing")
		return
	}

	envelope := map[string]interface{}{
		"categoryName": "productEvent",
		"product":      key.Product,
		"categoryArgs": map[string]interface{}{
			"methodName": scheduledEventName,
			"methodParams": map[string]interface{}{
				"product": key.Product,
				"data":    sched.Data,
				"name":    sched.Name,
			},
		},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to marshal schedule event")
		return
	}

	resp, err := m.client.Post(m.fireURL, "application/json", bytes.NewReader(body))
	if err != nil {
		m.logger.Error().Err(err).Str("name", key.Name).Msg("failed to fire schedule event")
	} else {
		resp.Body.Close()
		m.logger.Info().Str("name", key.Name).Str("product", key.Product).
			Int("status", resp.StatusCode).Msg("schedule fired")
	}

	if oneShot {
		m.mu.Lock()
		delete(m.timers, key)
		m.mu.Unlock()
		if err := m.store.Delete(key); err != nil && !errors.Is(err, ErrScheduleNotFound) {
			m.logger.Warn().Err(err).Str("name", key.Name).Msg("failed to remove fired schedule")
		}
	}
}
