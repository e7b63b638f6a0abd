package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appdock/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestStoreCreateAndGet(t *testing.T) {
	store := testStore(t)

	at := time.Now().Add(time.Hour).Truncate(time.Second)
	sched := &Schedule{
		Name:       "digest",
		Product:    "helpdesk",
		Data:       map[string]interface{}{"kind": "daily"},
		ScheduleAt: &at,
	}
	require.NoError(t, store.Create(sched))

	got, err := store.Get(Key{Name: "digest", Product: "helpdesk"})
	require.NoError(t, err)
	assert.Equal(t, "digest", got.Name)
	assert.Equal(t, "helpdesk", got.Product)
	assert.Equal(t, "daily", got.Data["kind"])
	require.NotNil(t, got.ScheduleAt)
	assert.True(t, got.ScheduleAt.Equal(at), "schedule_at %v != %v", got.ScheduleAt, at)
	assert.False(t, got.Recurring())
}

func TestStoreCreateDuplicate(t *testing.T) {
	store := testStore(t)

	at := time.Now().Add(time.Hour)
	sched := &Schedule{Name: "digest", Product: "helpdesk", Data: map[string]interface{}{}, ScheduleAt: &at}
	require.NoError(t, store.Create(sched))

	err := store.Create(&Schedule{Name: "digest", Product: "helpdesk", Data: map[string]interface{}{}, ScheduleAt: &at})
	assert.ErrorIs(t, err, ErrScheduleExists)
}

func TestStoreUpdate(t *testing.T) {
	store := testStore(t)

	at := time.Now().Add(time.Hour)
	sched := &Schedule{Name: "digest", Product: "helpdesk", Data: map[string]interface{}{"v": float64(1)}, ScheduleAt: &at}
	require.NoError(t, store.Create(sched))

	later := at.Add(time.Hour)
	sched.Data = map[string]interface{}{"v": float64(2)}
	sched.ScheduleAt = &later
	require.NoError(t, store.Update(sched))

	got, err := store.Get(sched.Key())
	require.NoError(t, err)
	assert.Equal(t, float64(2), got.Data["v"])
}

func TestStoreUpdateMissing(t *testing.T) {
	store := testStore(t)

	at := time.Now().Add(time.Hour)
	err := store.Update(&Schedule{Name: "ghost", Product: "helpdesk", Data: map[string]interface{}{}, ScheduleAt: &at})
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestStoreDeleteAndList(t *testing.T) {
	store := testStore(t)

	at := time.Now().Add(time.Hour)
	require.NoError(t, store.Create(&Schedule{Name: "a", Product: "helpdesk", Data: map[string]interface{}{}, ScheduleAt: &at}))
	require.NoError(t, store.Create(&Schedule{Name: "b", Product: "crm", Data: map[string]interface{}{}, CronExpression: "0 * * * *"}))

	all, err := store.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete(Key{Name: "a", Product: "helpdesk"}))
	assert.ErrorIs(t, store.Delete(Key{Name: "a", Product: "helpdesk"}), ErrScheduleNotFound)

	all, err = store.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStoreHasRecurring(t *testing.T) {
	store := testStore(t)

	has, err := store.HasRecurring("helpdesk")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.Create(&Schedule{
		Name: "nightly", Product: "helpdesk",
		Data: map[string]interface{}{}, CronExpression: "0 2 * * *",
	}))

	has, err = store.HasRecurring("helpdesk")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasRecurring("crm")
	require.NoError(t, err)
	assert.False(t, has)
}
