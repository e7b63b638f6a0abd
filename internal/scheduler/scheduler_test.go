package scheduler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"appdock/internal/storage"
)

func testManager(t *testing.T) *Manager {
	t.Helper()

	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(NewStore(db), "http://localhost:0/event/execute", zerolog.Nop())
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func reminder(at time.Time) *Schedule {
	return &Schedule{
		Name:       "reminder",
		Product:    "helpdesk",
		Data:       map[string]interface{}{"ticket_id": float64(42)},
		ScheduleAt: &at,
	}
}

func TestScheduleLifecycle(t *testing.T) {
	m := testManager(t)
	at := time.Now().Add(6 * time.Minute)

	if err := m.Create(reminder(at)); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same name again is a conflict.
	err := m.Create(reminder(at))
	if !errors.Is(err, ErrScheduleExists) {
		t.Errorf("duplicate create err = %v, want ErrScheduleExists", err)
	}

	key := Key{Name: "reminder", Product: "helpdesk"}
	got, err := m.Fetch(key)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Data["ticket_id"] != float64(42) {
		t.Errorf("data = %v, want ticket_id 42", got.Data)
	}

	if err := m.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Fetch(key); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("fetch after delete err = %v, want ErrScheduleNotFound", err)
	}

	// The name is free again once deleted.
	if err := m.Create(reminder(at)); err != nil {
		t.Errorf("recreate after delete: %v", err)
	}
}

func TestScheduleNamespacedPerProduct(t *testing.T) {
	m := testManager(t)
	at := time.Now().Add(10 * time.Minute)

	if err := m.Create(reminder(at)); err != nil {
		t.Fatalf("create: %v", err)
	}
	other := reminder(at)
	other.Product = "crm"
	if err := m.Create(other); err != nil {
		t.Errorf("same name under different product rejected: %v", err)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	m := testManager(t)

	soon := time.Now().Add(time.Minute)
	err := m.Create(reminder(soon))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
	if _, err := m.Fetch(Key{Name: "reminder", Product: "helpdesk"}); !errors.Is(err, ErrScheduleNotFound) {
		t.Error("invalid schedule was persisted")
	}
}

func TestCreateRejectsBadCron(t *testing.T) {
	m := testManager(t)

	err := m.Create(&Schedule{
		Name:           "nightly",
		Product:        "helpdesk",
		Data:           map[string]interface{}{},
		CronExpression: "not a cron",
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestSingleRecurringPerProduct(t *testing.T) {
	m := testManager(t)

	first := &Schedule{
		Name:           "nightly",
		Product:        "helpdesk",
		Data:           map[string]interface{}{},
		CronExpression: "0 2 * * *",
	}
	if err := m.Create(first); err != nil {
		t.Fatalf("create: %v", err)
	}

	second := &Schedule{
		Name:           "hourly",
		Product:        "helpdesk",
		Data:           map[string]interface{}{},
		CronExpression: "0 * * * *",
	}
	if err := m.Create(second); !errors.Is(err, ErrRecurringExists) {
		t.Errorf("err = %v, want ErrRecurringExists", err)
	}

	// A different product may still have its own recurring schedule.
	second.Product = "crm"
	if err := m.Create(second); err != nil {
		t.Errorf("recurring under different product rejected: %v", err)
	}
}

func TestStartDropsPastDueOneShots(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := NewStore(db)

	past := time.Now().Add(-time.Hour)
	stale := &Schedule{
		Name:       "stale",
		Product:    "helpdesk",
		Data:       map[string]interface{}{},
		ScheduleAt: &past,
	}
	if err := store.Create(stale); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := NewManager(store, "http://localhost:0/event/execute", zerolog.Nop())
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(m.Stop)

	if _, err := store.Get(stale.Key()); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("past-due schedule survived start: %v", err)
	}
}

func TestFireEnvelopeCarriesProduct(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := NewStore(db)

	bodyCh := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodyCh <- body
	}))
	t.Cleanup(srv.Close)

	at := time.Now().Add(6 * time.Minute)
	sched := &Schedule{
		Name:       "reminder",
		Product:    "crm",
		Data:       map[string]interface{}{"msg": "hi"},
		ScheduleAt: &at,
	}
	if err := store.Create(sched); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := NewManager(store, srv.URL, zerolog.Nop())
	m.fire(sched.Key(), true)

	var envelope map[string]interface{}
	select {
	case body := <-bodyCh:
		if err := json.Unmarshal(body, &envelope); err != nil {
			t.Fatalf("unmarshal fired envelope: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("schedule never fired")
	}

	if envelope["categoryName"] != "productEvent" {
		t.Errorf("categoryName = %v, want productEvent", envelope["categoryName"])
	}
	if envelope["product"] != "crm" {
		t.Errorf("product = %v, want crm", envelope["product"])
	}
	args, _ := envelope["categoryArgs"].(map[string]interface{})
	if args["methodName"] != "onScheduledEvent" {
		t.Errorf("methodName = %v, want onScheduledEvent", args["methodName"])
	}

	// One-shot schedules are consumed by firing.
	if _, err := store.Get(sched.Key()); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("fired one-shot survived: %v", err)
	}
}
