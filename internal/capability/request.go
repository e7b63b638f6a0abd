package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// contentTypeAllowlist holds the response media types the proxy will
// forward to the script. text/* is always allowed.
var contentTypeAllowlist = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/xhtml+xml":  true,
	"application/javascript": true,
}

// registerRequest injects the $request capability: an outbound HTTP proxy
// with URL validation, a content-type allowlist, bounded retries, and a
// one-shot OAuth refresh on 401.
func registerRequest(vm *goja.Runtime, cctx *Context) error {
	reqObj := vm.NewObject()

	for _, method := range []string{"get", "post", "put", "patch", "delete"} {
		httpMethod := strings.ToUpper(method)
		_ = reqObj.Set(method, func(call goja.FunctionCall) goja.Value {
			return doProxyCall(vm, cctx, httpMethod, call)
		})
	}

	return vm.Set("$request", reqObj)
}

// proxyOptions are the per-call options accepted by $request verbs.
type proxyOptions struct {
	headers map[string]string
	isOAuth bool
}

func doProxyCall(vm *goja.Runtime, cctx *Context, method string, call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 1 {
		panic(vm.NewTypeError("url is required"))
	}
	target := call.Arguments[0].String()

	if msg, ok := validateTargetURL(target); !ok {
		return rejectedResult(vm, http.StatusBadRequest, msg)
	}

	body, opts, errVal := parseProxyArgs(vm, method, call)
	if errVal != nil {
		return errVal
	}

	resp, failure := cctx.performProxy(method, target, body, opts)
	if failure != nil {
		return rejected(vm, failure)
	}
	return resolved(vm, resp)
}

// parseProxyArgs extracts the optional body (write verbs only) and options.
func parseProxyArgs(vm *goja.Runtime, method string, call goja.FunctionCall) ([]byte, proxyOptions, goja.Value) {
	var body []byte
	var opts proxyOptions

	writeVerb := method == "POST" || method == "PUT" || method == "PATCH"

	if writeVerb && len(call.Arguments) > 1 {
		bodyArg := call.Arguments[1]
		if bodyArg != nil && !goja.IsUndefined(bodyArg) && !goja.IsNull(bodyArg) {
			switch v := bodyArg.Export().(type) {
			case string:
				body = []byte(v)
			default:
				data, err := json.Marshal(v)
				if err != nil {
					panic(vm.NewTypeError(fmt.Sprintf("failed to marshal body: %v", err)))
				}
				body = data
			}
		}
	}

	optIdx := 1
	if writeVerb {
		optIdx = 2
	}
	if len(call.Arguments) > optIdx {
		optArg := call.Arguments[optIdx]
		if optArg != nil && !goja.IsUndefined(optArg) && !goja.IsNull(optArg) {
			raw, ok := optArg.Export().(map[string]interface{})
			if !ok {
				return nil, opts, rejectedResult(vm, http.StatusBadRequest, MsgInvalidOptions)
			}
			if h, ok := raw["headers"].(map[string]interface{}); ok {
				opts.headers = make(map[string]string, len(h))
				for k, v := range h {
					opts.headers[k] = fmt.Sprintf("%v", v)
				}
			}
			if oa, ok := raw["isOAuth"].(bool); ok {
				opts.isOAuth = oa
			}
		}
	}

	return body, opts, nil
}

// proxyResponse is the success value $request resolves with.
type proxyResponse struct {
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers"`
	Response string            `json:"response"`
}

// performProxy executes the outbound call with the retry and refresh
// policy. It returns either the success value or a structured failure.
func (cctx *Context) performProxy(method, target string, body []byte, opts proxyOptions) (*proxyResponse, map[string]interface{}) {
	client := &http.Client{Timeout: cctx.Proxy.Timeout}
	attempts := 1 + cctx.Proxy.MaxRetries
	refreshed := false

	var lastErr error
	var lastStatus int

	accessToken := ""
	if opts.isOAuth && cctx.OAuth != nil {
		if t, err := cctx.OAuth.Tokens(cctx.Product); err == nil {
			accessToken = t.AccessToken
		}
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-cctx.Ctx.Done():
				return nil, failureValue(http.StatusBadGateway, "Request cancelled")
			case <-time.After(cctx.Proxy.RetryDelay):
			}
		}

		resp, err := cctx.doOnce(client, method, target, body, opts, accessToken)
		if err != nil {
			lastErr = err
			continue
		}

		// One transparent refresh-and-replay for OAuth-authenticated calls.
		// A second 401 is surfaced, never retried again.
		if resp.status == http.StatusUnauthorized && opts.isOAuth && !refreshed && cctx.OAuth != nil {
			refreshed = true
			token, rerr := cctx.OAuth.Refresh(cctx.Ctx, cctx.Product)
			if rerr != nil {
				cctx.Logger.Warn().Err(rerr).Msg("oauth refresh failed")
				return nil, failureValue(http.StatusUnauthorized, "Token refresh failed")
			}
			accessToken = token
			replay, err := cctx.doOnce(client, method, target, body, opts, accessToken)
			if err != nil {
				lastErr = err
				continue
			}
			resp = replay
		}

		if resp.status == http.StatusTooManyRequests || resp.status >= 500 {
			lastStatus = resp.status
			continue
		}

		if resp.status >= 400 {
			f := failureValue(resp.status, http.StatusText(resp.status))
			f["response"] = resp.body
			return nil, f
		}

		if msg, ok := checkContentType(resp.contentType); !ok {
			return nil, failureValue(http.StatusUnsupportedMediaType, msg)
		}

		return &proxyResponse{
			Status:   resp.status,
			Headers:  resp.headers,
			Response: resp.body,
		}, nil
	}

	if lastErr != nil {
		cctx.Logger.Warn().Err(lastErr).Str("url", target).Msg("proxy request failed")
		return nil, failureValue(http.StatusBadGateway, "Error in establishing connection")
	}
	return nil, failureValue(http.StatusBadGateway, fmt.Sprintf("Request failed with status %d after %d attempts", lastStatus, attempts))
}

type rawResponse struct {
	status      int
	headers     map[string]string
	body        string
	contentType string
}

func (cctx *Context) doOnce(client *http.Client, method, target string, body []byte, opts proxyOptions, accessToken string) (*rawResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(cctx.Ctx, method, target, reader)
	if err != nil {
		return nil, err
	}

	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}

	return &rawResponse{
		status:      resp.StatusCode,
		headers:     headers,
		body:        string(data),
		contentType: resp.Header.Get("Content-Type"),
	}, nil
}

// validateTargetURL enforces the proxy's target constraints: secure
// transport, no literal IPs, and a fully-qualified domain name.
func validateTargetURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return MsgMustBeHTTPS, false
	}
	if u.Scheme != "https" {
		return MsgMustBeHTTPS, false
	}

	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return MsgIPDisallowed, false
	}
	if !isFQDN(host) {
		return MsgMustBeFQDN, false
	}
	return "", true
}

// isFQDN reports whether host has at least two labels and an alphabetic
// top-level domain of two or more characters.
func isFQDN(host string) bool {
	host = strings.TrimSuffix(host, ".")
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	for _, label := range labels {
		if label == "" {
			return false
		}
	}
	return true
}

// checkContentType validates the response media type against the allowlist.
func checkContentType(ct string) (string, bool) {
	if ct == "" {
		return "", true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return fmt.Sprintf("Unsupported content type %q", ct), false
	}
	if strings.HasPrefix(mediaType, "text/") || contentTypeAllowlist[mediaType] {
		return "", true
	}
	return fmt.Sprintf("Unsupported content type %q", mediaType), false
}

func failureValue(status int, message string) map[string]interface{} {
	return map[string]interface{}{
		"status":  status,
		"message": message,
	}
}
