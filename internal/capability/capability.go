package capability

import (
	"context"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"appdock/internal/manifest"
	"appdock/internal/oauth"
	"appdock/internal/scheduler"
	"appdock/internal/storage"
)

// ProxyConfig bounds the outbound request capability.
type ProxyConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Context carries everything a capability needs for one request. It is
// built fresh per dispatch and discarded with the response.
type Context struct {
	Ctx      context.Context
	Product  string
	DB       *storage.DB
	Schedule *scheduler.Manager
	Manifest *manifest.Provider
	OAuth    *oauth.Manager
	Proxy    ProxyConfig
	Logger   zerolog.Logger

	// BaseURL is the externally reachable base for generated webhook URLs
	// (tunnel URL when present, local loopback otherwise).
	BaseURL string

	// CurrentEvent is the event being dispatched, consulted by the
	// webhook capability's allow-list.
	CurrentEvent string

	// InstallContext withholds the stateful capabilities during
	// installation-page invocations, where product state is not yet
	// provisioned.
	InstallContext bool
}

// Register injects the capability surface into the VM's global scope.
func Register(vm *goja.Runtime, cctx *Context) error {
	if err := registerRequest(vm, cctx); err != nil {
		return err
	}

	// $db, $schedule, and generateTargetUrl operate against provisioned
	// product state and are withheld in install context.
	if cctx.InstallContext {
		return nil
	}

	if err := registerDB(vm, cctx); err != nil {
		return err
	}
	if err := registerSchedule(vm, cctx); err != nil {
		return err
	}
	return registerWebhook(vm, cctx)
}

// Unregister removes the injected capability globals.
func Unregister(vm *goja.Runtime) {
	global := vm.GlobalObject()
	_ = global.Delete("$request")
	_ = global.Delete("$db")
	_ = global.Delete("$schedule")
	_ = global.Delete("generateTargetUrl")
}
