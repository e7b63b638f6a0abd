package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"appdock/internal/coverage"
)

// Loader resolves require calls issued from inside the sandboxed script.
// Relative references stay inside the app's script root; bare identifiers
// load from the app's installed dependency directory. The module cache is
// scoped to one loader, which lives exactly as long as one request.
type Loader struct {
	scriptRoot   string
	depsRoot     string
	instrumenter coverage.Instrumenter
	collector    *coverage.Collector
	logger       zerolog.Logger

	vm    *goja.Runtime
	cache map[string]goja.Value

	// dirStack tracks the directory of the module currently executing,
	// so nested relative requires resolve against their own file.
	dirStack []string
}

// NewLoader creates a loader rooted at scriptRoot with dependencies under
// depsRoot.
func NewLoader(scriptRoot, depsRoot string, instrumenter coverage.Instrumenter, collector *coverage.Collector, logger zerolog.Logger) *Loader {
	if instrumenter == nil {
		instrumenter = coverage.NopInstrumenter{}
	}
	root, err := filepath.Abs(scriptRoot)
	if err != nil {
		root = scriptRoot
	}
	deps, err := filepath.Abs(depsRoot)
	if err != nil {
		deps = depsRoot
	}
	return &Loader{
		scriptRoot:   root,
		depsRoot:     deps,
		instrumenter: instrumenter,
		collector:    collector,
		logger:       logger,
		cache:        make(map[string]goja.Value),
		dirStack:     []string{root},
	}
}

// Register installs the require function into the VM's global scope.
func (l *Loader) Register(vm *goja.Runtime) error {
	l.vm = vm
	return vm.Set("require", l.require)
}

// require is the entry point invoked from script code.
func (l *Loader) require(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 1 {
		panic(l.vm.NewTypeError("require: module id is required"))
	}
	id := call.Arguments[0].String()

	var value goja.Value
	var err error
	if strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") {
		value, err = l.loadRelative(id)
	} else {
		value, err = l.loadDependency(id)
	}
	if err != nil {
		panic(l.vm.NewGoError(err))
	}
	return value
}

// loadRelative resolves id against the current directory frame, rejecting
// anything that escapes the script root.
func (l *Loader) loadRelative(id string) (goja.Value, error) {
	current := l.dirStack[len(l.dirStack)-1]
	resolved := filepath.Clean(filepath.Join(current, id))

	if resolved != l.scriptRoot && !strings.HasPrefix(resolved, l.scriptRoot+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	path, err := resolveFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	if cached, ok := l.cache[path]; ok {
		return cached, nil
	}
	return l.execute(path)
}

// loadDependency resolves a bare identifier inside the app's dependency
// directory. Path separators are stripped to the basename; exact submodule
// paths are not supported.
func (l *Loader) loadDependency(id string) (goja.Value, error) {
	name := id
	if i := strings.IndexAny(name, "/\\"); i >= 0 {
		name = filepath.Base(name)
	}

	candidates := []string{
		filepath.Join(l.depsRoot, name),
		filepath.Join(l.depsRoot, name, "index.js"),
	}
	for _, c := range candidates {
		path, err := resolveFile(c)
		if err != nil {
			continue
		}
		if cached, ok := l.cache[path]; ok {
			return cached, nil
		}
		return l.execute(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
}

// execute reads, instruments, and runs a module file in the sandbox,
// caching and returning its export table.
func (l *Loader) execute(path string) (goja.Value, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
	}

	instrumented, err := l.instrumenter.Instrument(string(source), path)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instrument %s: %w", path, err)
	}
	if l.collector != nil {
		l.collector.Record(path, 1)
	}

	// CommonJS-style wrapping keeps the module's locals out of the
	// shared global scope.
	wrapped := "(function(exports, module, require) {\n" + instrumented + "\n})"
	fnValue, err := l.vm.RunScript(path, wrapped)
	if err != nil {
		return nil, &ScriptError{Script: path, Cause: err}
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, &ScriptError{Script: path, Cause: fmt.Errorf("module did not compile to a function")}
	}

	exports := l.vm.NewObject()
	moduleObj := l.vm.NewObject()
	_ = moduleObj.Set("exports", exports)

	l.dirStack = append(l.dirStack, filepath.Dir(path))
	_, err = fn(goja.Undefined(), exports, moduleObj, l.vm.ToValue(l.require))
	l.dirStack = l.dirStack[:len(l.dirStack)-1]
	if err != nil {
		return nil, &ScriptError{Script: path, Cause: err}
	}

	result := moduleObj.Get("exports")
	l.cache[path] = result
	l.logger.Debug().Str("path", path).Msg("module loaded")
	return result, nil
}

// resolveFile finds an existing file for the reference, trying a .js
// suffix when the bare path does not exist.
func resolveFile(path string) (string, error) {
	for _, candidate := range []string{path, path + ".js"} {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}
