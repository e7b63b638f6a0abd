package capability

import (
	"net/http"
	"net/url"

	"github.com/dop251/goja"
)

// externalEventName is the callback a generated webhook URL targets.
const externalEventName = "onExternalEvent"

// maxDiscriminatorLength bounds the optional caller-supplied path segment
// encoded into the generated URL.
const maxDiscriminatorLength = 64

// webhookCapableEvents are the events during which a webhook target URL
// may be generated.
var webhookCapableEvents = map[string]bool{
	"onAppInstall":         true,
	"onTicketCreate":       true,
	"onTicketUpdate":       true,
	"onContactCreate":      true,
	"onContactUpdate":      true,
	"onConversationCreate": true,
	"onExternalEvent":      true,
	"onScheduledEvent":     true,
}

// registerWebhook injects the generateTargetUrl global.
func registerWebhook(vm *goja.Runtime, cctx *Context) error {
	return vm.Set("generateTargetUrl", func(call goja.FunctionCall) goja.Value {
		if !cctx.Manifest.HasEvent(cctx.Product, externalEventName) {
			return rejectedResult(vm, http.StatusBadRequest,
				"The onExternalEvent callback is not registered for this app")
		}
		if !webhookCapableEvents[cctx.CurrentEvent] {
			return rejectedResult(vm, http.StatusBadRequest,
				"Cannot generate target URL for this event")
		}

		discriminator := ""
		if len(call.Arguments) > 0 {
			arg := call.Arguments[0]
			if arg != nil && !goja.IsUndefined(arg) && !goja.IsNull(arg) {
				if raw, ok := arg.Export().(map[string]interface{}); ok {
					if p, ok := raw["path"].(string); ok {
						discriminator = p
					}
				} else {
					discriminator = arg.String()
				}
			}
		}
		if len(discriminator) > maxDiscriminatorLength {
			return rejectedResult(vm, http.StatusBadRequest, MsgInvalidOptions)
		}

		target := cctx.BaseURL + "/event/hook/" + cctx.Product
		if discriminator != "" {
			target += "/" + url.PathEscape(discriminator)
		}
		return resolved(vm, target)
	})
}
