package collectors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgsignal.dev/analyzer/errkind"
)

type fakeCollector struct {
	name string
	val  interface{}
	err  error
	fn   func(ctx context.Context, in Input) (interface{}, error)
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Run(ctx context.Context, in Input) (interface{}, error) {
	if f.fn != nil {
		return f.fn(ctx, in)
	}
	return f.val, f.err
}

func TestRunAllCollectsEverySucceedingCollector(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{name: "a", val: "a-result"})
	reg.Register(&fakeCollector{name: "b", val: "b-result"})

	collected, err := RunAll(context.Background(), reg, Input{}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a-result", collected["a"])
	assert.Equal(t, "b-result", collected["b"])
}

func TestRunAllOmitsToleratedFailures(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{name: "a", val: "a-result"})
	reg.Register(&fakeCollector{name: "b", err: errkind.New(errkind.CollectorTolerated, "skipped")})

	collected, err := RunAll(context.Background(), reg, Input{}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a-result", collected["a"])
	_, ok := collected["b"]
	assert.False(t, ok)
}

func TestRunAllAbortsOnFatalFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{name: "a", val: "a-result"})
	reg.Register(&fakeCollector{name: "b", err: errkind.Wrap(errkind.CollectorFatal, errors.New("boom"))})

	collected, err := RunAll(context.Background(), reg, Input{}, []string{"a", "b"})
	require.Error(t, err)
	assert.Nil(t, collected)
	assert.True(t, errkind.Is(err, errkind.CollectorFatal))
}

func TestRunAllRecoversFromPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{name: "a", fn: func(ctx context.Context, in Input) (interface{}, error) {
		panic("unexpected")
	}})
	reg.Register(&fakeCollector{name: "b", val: "b-result"})

	collected, err := RunAll(context.Background(), reg, Input{}, []string{"a", "b"})
	require.NoError(t, err)
	_, ok := collected["a"]
	assert.False(t, ok)
	assert.Equal(t, "b-result", collected["b"])
}

func TestRunAllSkipsUnregisteredNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeCollector{name: "a", val: "a-result"})

	collected, err := RunAll(context.Background(), reg, Input{}, []string{"a", "ghost"})
	require.NoError(t, err)
	assert.Len(t, collected, 1)
}
