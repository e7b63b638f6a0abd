package scheduler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"appdock/internal/storage"
)

// Store persists schedules in the harness database.
type Store struct {
	db *storage.DB
}

// NewStore creates a schedule store.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new schedule. Returns ErrScheduleExists when the
// name+product pair is taken.
func (s *Store) Create(sched *Schedule) error {
	data, err := json.Marshal(sched.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	now := time.Now()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	_, err = s.db.Exec(
		`INSERT INTO schedules (name, product, data, schedule_at, cron_expression, recurring, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.Name, sched.Product, string(data), sched.ScheduleAt, sched.CronExpression,
		boolToInt(sched.Recurring()), sched.CreatedAt, sched.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrScheduleExists
		}
		return err
	}
	return nil
}

// Get returns the schedule stored under key.
func (s *Store) Get(key Key) (*Schedule, error) {
	row := s.db.QueryRow(
		`SELECT name, product, data, schedule_at, cron_expression, created_at, updated_at
		 FROM schedules WHERE name = ? AND product = ?`,
		key.Name, key.Product,
	)
	return scanSchedule(row)
}

// Update replaces the mutable fields of an existing schedule.
func (s *Store) Update(sched *Schedule) error {
	data, err := json.Marshal(sched.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	sched.UpdatedAt = time.Now()

	result, err := s.db.Exec(
		`UPDATE schedules SET data = ?, schedule_at = ?, cron_expression = ?, recurring = ?, updated_at = ?
		 WHERE name = ? AND product = ?`,
		string(data), sched.ScheduleAt, sched.CronExpression, boolToInt(sched.Recurring()),
		sched.UpdatedAt, sched.Name, sched.Product,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// Delete removes the schedule stored under key.
func (s *Store) Delete(key Key) error {
	result, err := s.db.Exec(
		"DELETE FROM schedules WHERE name = ? AND product = ?",
		key.Name, key.Product,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// List returns every persisted schedule.
func (s *Store) List() ([]*Schedule, error) {
	rows, err := s.db.Query(
		`SELECT name, product, data, schedule_at, cron_expression, created_at, updated_at
		 FROM schedules ORDER BY product, name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// HasRecurring reports whether the product owns a recurring schedule.
func (s *Store) HasRecurring(product string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM schedules WHERE product = ? AND recurring = 1",
		product,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var data string
	var scheduleAt sql.NullTime

	err := row.Scan(&sched.Name, &sched.Product, &data, &scheduleAt,
		&sched.CronExpression, &sched.CreatedAt, &sched.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}

	if scheduleAt.Valid {
		t := scheduleAt.Time
		sched.ScheduleAt = &t
	}
	if err := json.Unmarshal([]byte(data), &sched.Data); err != nil {
		return nil, fmt.Errorf("unmarshal schedule data: %w", err)
	}
	return &sched, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
