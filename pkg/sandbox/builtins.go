package sandbox

import (
	"fmt"
	gomath "math"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// sum(iterable, start=0) behaves like its Python counterpart; generated code uses it a lot
func builtinSum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		iterable starlark.Iterable
		start    starlark.Value = starlark.MakeInt(0)
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	acc := start
	var x starlark.Value
	for iter.Next(&x) {
		next, err := starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		acc = next
	}
	return acc, nil
}

// round(x, ndigits=None) rounds half to even; without ndigits it returns an int
func builtinRound(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		x       starlark.Value
		ndigits starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "ndigits?", &ndigits); err != nil {
		return nil, err
	}

	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want float or int", b.Name(), x.Type())
	}

	if ndigits == starlark.None {
		n, err := starlark.NumberToInt(starlark.Float(gomath.RoundToEven(f)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return n, nil
	}

	n, err := starlark.AsInt32(ndigits)
	if err != nil {
		return nil, fmt.Errorf("%s: ndigits: %w", b.Name(), err)
	}
	scale := gomath.Pow(10, float64(n))
	return starlark.Float(gomath.RoundToEven(f*scale) / scale), nil
}
