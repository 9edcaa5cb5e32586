package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// Defaults for Options.
const (
	DefaultTimeout   = 120 * time.Second
	DefaultMaxSteps  = 5_000_000
	DefaultMaxOutput = 64 * 1024
)

// Options configures a Runner.
type Options struct {
	// Backend serves the cloud.* builtins. Procedures cannot reach the cloud without it.
	Backend engine.Backend

	Timeout   time.Duration
	MaxSteps  uint64
	MaxOutput int
	Logger    zerolog.Logger
}

// Runner executes generated procedures in a Starlark interpreter whose only
// side effects are the cloud.* builtins. load() is refused.
type Runner struct {
	backend   engine.Backend
	timeout   time.Duration
	maxSteps  uint64
	maxOutput int
	logger    zerolog.Logger
}

var _ engine.ScriptRunner = (*Runner)(nil)

// NewRunner creates a procedure runner.
func NewRunner(opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxSteps == 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	return &Runner{
		backend:   opts.Backend,
		timeout:   opts.Timeout,
		maxSteps:  opts.MaxSteps,
		maxOutput: opts.MaxOutput,
		logger:    opts.Logger.With().Str("component", "sandbox").Logger(),
	}
}

// Run executes the procedure. Credentials for cloud.* calls are taken from ctx.
func (r *Runner) Run(ctx context.Context, code string) *engine.ScriptOutcome {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ex := &execution{
		ctx:       evalCtx,
		backend:   r.backend,
		maxOutput: r.maxOutput,
	}
	thread := &starlark.Thread{
		Name:  "procedure",
		Print: ex.print,
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("unsupported import %q", module)
		},
	}
	thread.SetMaxExecutionSteps(r.maxSteps)

	done := make(chan error, 1)
	go func() {
		done <- ex.exec(thread, code)
	}()

	var err error
	select {
	case <-evalCtx.Done():
		thread.Cancel("deadline exceeded")
		<-done
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("procedure execution timeout after %v", r.timeout)
		} else {
			err = fmt.Errorf("procedure execution cancelled: %w", ctx.Err())
		}
	case err = <-done:
	}

	r.logger.Debug().
		Dur("duration", time.Since(startTime)).
		Uint64("steps", thread.ExecutionSteps()).
		Bool("emitted", ex.result != nil).
		Err(err).
		Msg("Procedure finished")

	return &engine.ScriptOutcome{
		Result: ex.resultMap(),
		Output: ex.outputString(),
		Err:    err,
	}
}

// Procedures are scripts, so top-level control flow is allowed.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// execution is the state of one procedure run.
type execution struct {
	ctx       context.Context
	backend   engine.Backend
	maxOutput int

	mu        sync.Mutex
	output    strings.Builder
	truncated bool
	result    map[string]interface{}
}

func (ex *execution) exec(thread *starlark.Thread, code string) error {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starlarkjson.Module,
		"cloud":  ex.cloudModule(),
		"emit":   starlark.NewBuiltin("emit", ex.emit),
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, "procedure.star", code, predeclared)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			ex.write(evalErr.Backtrace())
		}
		return fmt.Errorf("procedure failed: %w", err)
	}

	// A procedure that never called emit() may leave its answer in a global.
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.result == nil {
		if v, ok := globals["result"]; ok {
			if m, err := fromStarlarkValue(v); err == nil {
				if dict, ok := m.(map[string]interface{}); ok {
					ex.result = dict
				}
			}
		}
	}
	if ex.result == nil {
		ex.result = lastJSONObject(ex.output.String())
	}
	return nil
}

// lastJSONObject returns the last printed line that parses as a JSON object.
func lastJSONObject(output string) map[string]interface{} {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err != nil || dec.More() {
			continue
		}
		if m, ok := normalizeNumbers(obj).(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

func (ex *execution) print(_ *starlark.Thread, msg string) {
	ex.write(msg)
}

func (ex *execution) write(msg string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.truncated {
		return
	}
	if ex.output.Len()+len(msg)+1 > ex.maxOutput {
		remaining := ex.maxOutput - ex.output.Len()
		if remaining > 0 {
			ex.output.WriteString(msg[:min(remaining, len(msg))])
		}
		ex.output.WriteString("\n[output truncated]")
		ex.truncated = true
		return
	}
	ex.output.WriteString(msg)
	ex.output.WriteByte('\n')
}

func (ex *execution) outputString() string {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return strings.TrimRight(ex.output.String(), "\n")
}

func (ex *execution) resultMap() map[string]interface{} {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.result
}

// emit(value) records value as the procedure's structured result. The last call wins.
func (ex *execution) emit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &value); err != nil {
		return nil, err
	}
	goVal, err := fromStarlarkValue(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	dict, ok := goVal.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: expected dict or struct, got %s", b.Name(), value.Type())
	}

	ex.mu.Lock()
	ex.result = dict
	ex.mu.Unlock()
	return starlark.None, nil
}
