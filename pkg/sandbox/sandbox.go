package sandbox

import (
	"context"
	"errors"
	"fmt"
	rtmetrics "runtime/metrics"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// builtins lists the universe functions programs may call. Everything else in
// the starlark universe is rejected by the admission policy.
var builtins = []string{
	"abs", "all", "any", "bool", "dict", "enumerate", "float", "int", "len",
	"list", "max", "min", "print", "range", "reversed", "sorted", "str",
	"tuple", "zip",
}

const (
	defaultTimeout   = 5 * time.Second
	defaultMaxSteps  = 10_000_000
	defaultMaxOutput = 64 * 1024
	defaultMaxMemory = 256 << 20

	memorySampleInterval = 5 * time.Millisecond
	heapObjectsMetric    = "/memory/classes/heap/objects:bytes"
)

// Sandbox executes untrusted, model generated Starlark programs. Programs see
// only the math module and a fixed set of pure builtins; there is no
// filesystem, network or process access, and execution is bounded by a wall
// clock timeout, an instruction step limit and a cap on heap growth.
type Sandbox struct {
	timeout   time.Duration
	maxSteps  uint64
	maxOutput int
	maxMemory uint64

	admission   *admission
	predeclared starlark.StringDict
	allowed     []string
}

type Option func(*Sandbox)

func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) {
		s.timeout = d
	}
}

func WithMaxSteps(n uint64) Option {
	return func(s *Sandbox) {
		s.maxSteps = n
	}
}

func WithMaxOutput(n int) Option {
	return func(s *Sandbox) {
		s.maxOutput = n
	}
}

// WithMaxMemory caps how far the process heap may grow while a program runs.
// Zero disables the check.
func WithMaxMemory(n uint64) Option {
	return func(s *Sandbox) {
		s.maxMemory = n
	}
}

// New creates a sandbox and prepares its admission policy
func New(ctx context.Context, opts ...Option) (*Sandbox, error) {
	s := &Sandbox{
		timeout:   defaultTimeout,
		maxSteps:  defaultMaxSteps,
		maxOutput: defaultMaxOutput,
		maxMemory: defaultMaxMemory,
		predeclared: starlark.StringDict{
			"math":  math.Module,
			"sum":   starlark.NewBuiltin("sum", builtinSum),
			"round": starlark.NewBuiltin("round", builtinRound),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.allowed = append(s.allowed, builtins...)
	s.allowed = append(s.allowed, "sum", "round")
	for name := range math.Module.Members {
		s.allowed = append(s.allowed, "math."+name)
	}

	adm, err := newAdmission(ctx, admissionPolicy)
	if err != nil {
		return nil, err
	}
	s.admission = adm

	return s, nil
}

// AllowedSymbols returns the functions a program may call
func (s *Sandbox) AllowedSymbols() []string {
	return append([]string(nil), s.allowed...)
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Execute runs code and returns what it printed. Any failure (syntax error,
// policy rejection, runtime error, timeout, memory limit) is returned as
// model.ErrExecution together with the output captured so far.
func (s *Sandbox) Execute(ctx context.Context, code string) (string, error) {
	f, prog, err := starlark.SourceProgramOptions(fileOptions, "solution.star", code, s.predeclared.Has)
	if err != nil {
		return "", goerr.Wrap(model.ErrExecution.Wrap(err), "failed to compile program")
	}

	denies, err := s.admission.check(ctx, f, s.allowed)
	if err != nil {
		return "", err
	}
	if len(denies) > 0 {
		return "", goerr.Wrap(model.ErrExecution, "program rejected: "+strings.Join(denies, "; "),
			goerr.V("denies", denies))
	}

	out := &limitedBuffer{limit: s.maxOutput}
	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg + "\n")
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, errors.New("load is disabled")
		},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go s.watch(ctx, thread, done, heapObjects())

	started := time.Now()
	_, err = prog.Init(thread, s.predeclared)
	logging.From(ctx).Debug("sandbox executed",
		"duration", time.Since(started),
		"steps", thread.ExecutionSteps(),
		"output_bytes", out.Len(),
	)

	if err != nil {
		msg := err.Error()
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			msg = evalErr.Msg
		}
		return out.String(), goerr.Wrap(model.ErrExecution, msg, goerr.V("steps", thread.ExecutionSteps()))
	}

	return out.String(), nil
}

// watch cancels thread when ctx expires or the heap grows more than maxMemory
// over baseline. Heap usage is process wide, so concurrent executions share
// the budget.
func (s *Sandbox) watch(ctx context.Context, thread *starlark.Thread, done <-chan struct{}, baseline uint64) {
	var tick <-chan time.Time
	if s.maxMemory > 0 {
		ticker := time.NewTicker(memorySampleInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			thread.Cancel("execution timed out after " + s.timeout.String())
			return

		case <-done:
			return

		case <-tick:
			if used := heapObjects(); used > baseline && used-baseline > s.maxMemory {
				thread.Cancel(fmt.Sprintf("memory limit exceeded: heap grew by %d bytes, limit is %d", used-baseline, s.maxMemory))
				logging.From(ctx).Warn("sandbox memory limit exceeded",
					"grown", used-baseline,
					"limit", s.maxMemory,
				)
				return
			}
		}
	}
}

// heapObjects reports bytes occupied by heap objects, live or not yet swept
func heapObjects() uint64 {
	sample := []rtmetrics.Sample{{Name: heapObjectsMetric}}
	rtmetrics.Read(sample)
	if sample[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// limitedBuffer keeps at most limit bytes of output and marks truncation
type limitedBuffer struct {
	strings.Builder
	limit     int
	truncated bool
}

func (b *limitedBuffer) WriteString(s string) {
	if b.truncated {
		return
	}
	if b.Builder.Len()+len(s) > b.limit {
		b.Builder.WriteString(s[:max(0, b.limit-b.Builder.Len())])
		b.Builder.WriteString("\n...(output truncated)\n")
		b.truncated = true
		return
	}
	b.Builder.WriteString(s)
}
