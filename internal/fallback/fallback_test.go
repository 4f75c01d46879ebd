package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
)

func TestDo_FalseThenPanicThenTrue(t *testing.T) {
	calls := 0
	ex := New(nil)
	trace, err := ex.Do(context.Background(), "save",
		Check("button", func(context.Context) bool { calls++; return false }),
		Try("js", func(context.Context) error { calls++; panic("detached node") }),
		Check("enter", func(context.Context) bool { calls++; return true }),
	)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, trace.Tried())
	assert.Equal(t, "enter", trace.Winner())
	assert.Equal(t, "button=failed,js=failed,enter=succeeded", trace.Summary())
}

func TestDo_StopsAtFirstSuccess(t *testing.T) {
	var invoked []string
	attempt := func(name string, err error) Attempt {
		return Try(name, func(context.Context) error {
			invoked = append(invoked, name)
			return err
		})
	}

	_, err := New(nil).Do(context.Background(), "click",
		attempt("a", errs.New(errs.NotFound, "no element")),
		attempt("b", nil),
		attempt("c", nil),
	)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"a", "b"}, invoked); diff != "" {
		t.Fatalf("invoked mismatch (-want +got):\n%s", diff)
	}
}

func TestDo_FatalAbortsChain(t *testing.T) {
	fatal := errs.New(errs.Unavailable, "page closed")
	third := false
	trace, err := New(nil).Do(context.Background(), "fill",
		Try("locator", func(context.Context) error { return errs.New(errs.NotFound, "missing") }),
		Try("js", func(context.Context) error { return fatal }),
		Try("keyboard", func(context.Context) error { third = true; return nil }),
	)

	require.ErrorIs(t, err, fatal)
	assert.False(t, third)
	assert.Equal(t, 2, trace.Tried())
	assert.Equal(t, Fatal, trace.Results[1].Kind)
}

func TestDo_ExhaustedIsNotFound(t *testing.T) {
	trace, err := New(nil).Do(context.Background(), "logout",
		Check("menu", func(context.Context) bool { return false }),
		Try("link", func(context.Context) error { return errs.New(errs.NotFound, "no link") }),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.True(t, errs.Is(err, errs.NotFound))
	assert.Equal(t, 2, trace.Tried())
	assert.Empty(t, trace.Winner())

	_, err = New(nil).Do(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestDo_CancelledContextRunsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	trace, err := New(nil).Do(ctx, "goto", Try("nav", func(context.Context) error { ran = true; return nil }))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Aborted))
	assert.False(t, ran)
	assert.Zero(t, trace.Tried())
}

func TestDo_ObserverSeesEveryAttempt(t *testing.T) {
	var seen []Kind
	ex := New(func(action string, r Result) {
		assert.Equal(t, "submit", action)
		seen = append(seen, r.Kind)
	})
	ok := ex.Any(context.Background(), "submit",
		Try("a", func(context.Context) error { return errs.New(errs.NotFound, "x") }),
		Try("b", func(context.Context) error { return errors.New("timeout") }),
		Try("c", func(context.Context) error { return nil }),
	)
	assert.True(t, ok)
	assert.Equal(t, []Kind{NotFound, Failed, Succeeded}, seen)
}

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		err  error
		want Kind
	}{
		"nil":         {nil, Succeeded},
		"not found":   {errs.New(errs.NotFound, "x"), NotFound},
		"unavailable": {errs.New(errs.Unavailable, "x"), Fatal},
		"cancelled":   {context.Canceled, Fatal},
		"deadline":    {context.DeadlineExceeded, Fatal},
		"plain":       {errors.New("x"), Failed},
		"denied":      {errs.New(errs.PermissionDenied, "x"), Failed},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), name)
	}
}

// The k-th attempt being the first success means exactly k attempts ran.
func testDo_KthSuccessRunsExactlyK(t *rapid.T) {
	n := rapid.IntRange(1, 10).Draw(t, "n")
	k := rapid.IntRange(1, n).Draw(t, "k")

	calls := 0
	attempts := make([]Attempt, n)
	for i := range attempts {
		i := i
		attempts[i] = Try("", func(context.Context) error {
			calls++
			if i+1 == k {
				return nil
			}
			if i%2 == 0 {
				return errs.New(errs.NotFound, "absent")
			}
			return errors.New("failed")
		})
	}

	trace, err := New(nil).Do(context.Background(), "prop", attempts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != k || trace.Tried() != k {
		t.Fatalf("calls=%d tried=%d, want %d", calls, trace.Tried(), k)
	}
}

func TestDo_KthSuccessRunsExactlyK(t *testing.T) {
	rapid.Check(t, testDo_KthSuccessRunsExactlyK)
}
