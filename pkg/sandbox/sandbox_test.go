package sandbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/sandbox"
)

func newSandbox(t *testing.T, opts ...sandbox.Option) *sandbox.Sandbox {
	sb, err := sandbox.New(context.Background(), opts...)
	gt.NoError(t, err)
	return sb
}

func TestExecuteCapturesPrint(t *testing.T) {
	sb := newSandbox(t)

	out, err := sb.Execute(context.Background(), `
a, b, c = 1, -3, 2
d = b * b - 4 * a * c
r1 = (-b + math.sqrt(d)) / (2 * a)
r2 = (-b - math.sqrt(d)) / (2 * a)
print(r1, r2)
`)
	gt.NoError(t, err)
	gt.Equal(t, out, "2.0 1.0\n")
}

func TestExecuteSymbolicAnswer(t *testing.T) {
	sb := newSandbox(t)

	out, err := sb.Execute(context.Background(), `
def integrate_power(n):
    return "x^%d/%d + C" % (n + 1, n + 1)

print(integrate_power(2))
`)
	gt.NoError(t, err)
	gt.Equal(t, out, "x^3/3 + C\n")
}

func TestExecuteExtraBuiltins(t *testing.T) {
	sb := newSandbox(t)

	out, err := sb.Execute(context.Background(), `
print(sum([1, 2, 3]))
print(sum([0.5, 0.25], 1))
print(round(2.5), round(3.14159, 2))
`)
	gt.NoError(t, err)
	gt.Equal(t, out, "6\n1.75\n2 3.14\n")
}

func TestExecuteRejectsLoad(t *testing.T) {
	sb := newSandbox(t)

	_, err := sb.Execute(context.Background(), `load("os.star", "system")
print(1)
`)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExecution))
	gt.S(t, err.Error()).Contains("load")
}

func TestExecuteRejectsUnlistedBuiltin(t *testing.T) {
	sb := newSandbox(t)

	_, err := sb.Execute(context.Background(), `print(dir(math))`)
	gt.True(t, errors.Is(err, model.ErrExecution))
	gt.S(t, err.Error()).Contains("call to dir is not allowed")
}

func TestExecuteRejectsUndefinedName(t *testing.T) {
	sb := newSandbox(t)

	_, err := sb.Execute(context.Background(), `open("/etc/passwd")`)
	gt.True(t, errors.Is(err, model.ErrExecution))
}

func TestExecuteRejectsDunder(t *testing.T) {
	sb := newSandbox(t)

	_, err := sb.Execute(context.Background(), `
__x__ = 1
print(__x__)
`)
	gt.True(t, errors.Is(err, model.ErrExecution))
	gt.S(t, err.Error()).Contains("__x__")
}

func TestExecuteRuntimeError(t *testing.T) {
	sb := newSandbox(t)

	out, err := sb.Execute(context.Background(), `
print("before")
x = 1 // 0
`)
	gt.True(t, errors.Is(err, model.ErrExecution))
	gt.Equal(t, out, "before\n")
}

func TestExecuteTimeout(t *testing.T) {
	sb := newSandbox(t, sandbox.WithTimeout(100*time.Millisecond), sandbox.WithMaxSteps(0))

	started := time.Now()
	_, err := sb.Execute(context.Background(), `
while True:
    pass
`)
	gt.True(t, errors.Is(err, model.ErrExecution))
	gt.S(t, err.Error()).Contains("timed out")
	gt.True(t, time.Since(started) < 5*time.Second)
}

func TestExecuteStepLimit(t *testing.T) {
	sb := newSandbox(t, sandbox.WithMaxSteps(1000))

	_, err := sb.Execute(context.Background(), `
n = 0
for i in range(1000000):
    n += i
`)
	gt.True(t, errors.Is(err, model.ErrExecution))
}

func TestExecuteOutputLimit(t *testing.T) {
	sb := newSandbox(t, sandbox.WithMaxOutput(16))

	out, err := sb.Execute(context.Background(), `
for i in range(100):
    print("line", i)
`)
	gt.NoError(t, err)
	gt.S(t, out).Contains("output truncated")
}

func TestExecuteMemoryLimit(t *testing.T) {
	sb := newSandbox(t, sandbox.WithMaxMemory(64<<20))

	out, err := sb.Execute(context.Background(), `
l = []
for i in range(3):
    l.append("x" * (1 << 28))
print(len(l), len(l[0]))
`)
	gt.True(t, errors.Is(err, model.ErrExecution))
	gt.S(t, err.Error()).Contains("memory limit exceeded")
	gt.Equal(t, out, "")
}

func TestExecuteMemoryLimitAllowsSmallPrograms(t *testing.T) {
	sb := newSandbox(t, sandbox.WithMaxMemory(64<<20))

	out, err := sb.Execute(context.Background(), `
squares = [i * i for i in range(1000)]
print(sum(squares))
`)
	gt.NoError(t, err)
	gt.Equal(t, out, "332833500\n")
}

func TestRoundLargeFloat(t *testing.T) {
	sb := newSandbox(t)

	out, err := sb.Execute(context.Background(), `
print(round(1e300) == int(1e300))
print(round(1e300) > 0)
print(round(-2.5), round(1e19))
`)
	gt.NoError(t, err)
	gt.Equal(t, out, "True\nTrue\n-2 10000000000000000000\n")
}

func TestRoundNonFinite(t *testing.T) {
	sb := newSandbox(t)

	_, err := sb.Execute(context.Background(), `print(round(float("inf")))`)
	gt.True(t, errors.Is(err, model.ErrExecution))
	gt.S(t, err.Error()).Contains("round")
}

func TestAllowedSymbols(t *testing.T) {
	sb := newSandbox(t)
	gt.A(t, sb.AllowedSymbols()).Longer(20)
}
