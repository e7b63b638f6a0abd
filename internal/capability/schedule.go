package capability

import (
	"errors"
	"net/http"
	"time"

	"github.com/dop251/goja"

	"appdock/internal/scheduler"
)

// scheduleTargetEvent is the callback every schedule fires; it must be
// registered in the app's events table before a schedule can be created.
const scheduleTargetEvent = "onScheduledEvent"

// registerSchedule injects the $schedule capability.
func registerSchedule(vm *goja.Runtime, cctx *Context) error {
	schedObj := vm.NewObject()

	_ = schedObj.Set("create", func(call goja.FunctionCall) goja.Value {
		sched, errVal := parseScheduleArg(vm, cctx, call)
		if errVal != nil {
			return errVal
		}

		if !cctx.Manifest.HasEvent(cctx.Product, scheduleTargetEvent) {
			return rejectedResult(vm, http.StatusBadRequest,
				"The onScheduledEvent callback is not registered for this app")
		}

		err := cctx.Schedule.Create(sched)
		switch {
		case errors.Is(err, scheduler.ErrScheduleExists):
			return rejectedResult(vm, http.StatusBadRequest, "This Schedule name already exists")
		case errors.Is(err, scheduler.ErrRecurringExists):
			return rejectedResult(vm, http.StatusBadRequest, "A recurring schedule already exists for this app")
		case errors.Is(err, scheduler.ErrValidation):
			return rejectedResult(vm, http.StatusBadRequest, err.Error())
		case err != nil:
			cctx.Logger.Error().Err(err).Msg("schedule create failed")
			return rejectedResult(vm, http.StatusInternalServerError, "Failed to create schedule")
		}
		return resolvedResult(vm, http.StatusOK, "Schedule created")
	})

	_ = schedObj.Set("fetch", func(call goja.FunctionCall) goja.Value {
		name, errVal := scheduleName(vm, call)
		if errVal != nil {
			return errVal
		}

		sched, err := cctx.Schedule.Fetch(scheduler.Key{Name: name, Product: cctx.Product})
		if errors.Is(err, scheduler.ErrScheduleNotFound) {
			return rejectedResult(vm, http.StatusNotFound, "Schedule does not exist")
		}
		if err != nil {
			cctx.Logger.Error().Err(err).Msg("schedule fetch failed")
			return rejectedResult(vm, http.StatusInternalServerError, "Failed to fetch schedule")
		}

		out := map[string]interface{}{
			"name": sched.Name,
			"data": sched.Data,
		}
		if sched.ScheduleAt != nil {
			out["schedule_at"] = sched.ScheduleAt.Format(time.RFC3339)
		}
		if sched.Recurring() {
			out["cron_expression"] = sched.CronExpression
		}
		return resolved(vm, out)
	})

	_ = schedObj.Set("update", func(call goja.FunctionCall) goja.Value {
		sched, errVal := parseScheduleArg(vm, cctx, call)
		if errVal != nil {
			return errVal
		}

		err := cctx.Schedule.Update(sched)
		switch {
		case errors.Is(err, scheduler.ErrScheduleNotFound):
			return rejectedResult(vm, http.StatusNotFound, "Schedule does not exist")
		case errors.Is(err, scheduler.ErrRecurringExists):
			return rejectedResult(vm, http.StatusBadRequest, "A recurring schedule already exists for this app")
		case errors.Is(err, scheduler.ErrValidation):
			return rejectedResult(vm, http.StatusBadRequest, err.Error())
		case err != nil:
			cctx.Logger.Error().Err(err).Msg("schedule update failed")
			return rejectedResult(vm, http.StatusInternalServerError, "Failed to update schedule")
		}
		return resolvedResult(vm, http.StatusOK, "Schedule updated")
	})

	_ = schedObj.Set("delete", func(call goja.FunctionCall) goja.Value {
		name, errVal := scheduleName(vm, call)
		if errVal != nil {
			return errVal
		}

		err := cctx.Schedule.Delete(scheduler.Key{Name: name, Product: cctx.Product})
		if errors.Is(err, scheduler.ErrScheduleNotFound) {
			return rejectedResult(vm, http.StatusNotFound, "Schedule does not exist")
		}
		if err != nil {
			cctx.Logger.Error().Err(err).Msg("schedule delete failed")
			return rejectedResult(vm, http.StatusInternalServerError, "Failed to delete schedule")
		}
		return resolvedResult(vm, http.StatusOK, "Schedule deleted")
	})

	return vm.Set("$schedule", schedObj)
}

// parseScheduleArg converts the single options argument into a Schedule.
// Structural problems reject immediately, before any side effect.
func parseScheduleArg(vm *goja.Runtime, cctx *Context, call goja.FunctionCall) (*scheduler.Schedule, goja.Value) {
	if len(call.Arguments) < 1 {
		return nil, rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
	}
	raw, ok := call.Arguments[0].Export().(map[string]interface{})
	if !ok {
		return nil, rejectedResult(vm, http.StatusBadRequest, MsgInvalidOptions)
	}

	sched := &scheduler.Schedule{Product: cctx.Product}

	if name, ok := raw["name"].(string); ok {
		sched.Name = name
	}
	if data, ok := raw["data"].(map[string]interface{}); ok {
		sched.Data = data
	}
	if expr, ok := raw["cron_expression"].(string); ok {
		sched.CronExpression = expr
	}
	if at, ok := raw["schedule_at"].(string); ok {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, rejectedResult(vm, http.StatusBadRequest, "schedule_at must be an ISO timestamp")
		}
		sched.ScheduleAt = &t
	}

	if sched.Name == "" || sched.Data == nil {
		return nil, rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
	}
	return sched, nil
}

func scheduleName(vm *goja.Runtime, call goja.FunctionCall) (string, goja.Value) {
	if len(call.Arguments) < 1 {
		return "", rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
	}
	if raw, ok := call.Arguments[0].Export().(map[string]interface{}); ok {
		if name, ok := raw["name"].(string); ok && name != "" {
			return name, nil
		}
		return "", rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
	}
	name := call.Arguments[0].String()
	if name == "" || name == "undefined" || name == "null" {
		return "", rejectedResult(vm, http.StatusBadRequest, "Mandatory attributes Missing")
	}
	return name, nil
}
