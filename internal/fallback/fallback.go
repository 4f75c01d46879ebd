// Package fallback runs one logical action through an ordered list of
// alternative strategies until one of them succeeds.
//
// Each attempt reports a tagged result. NotFound and Failed move on to the
// next attempt; Fatal stops the chain at once. Nothing is rolled back: a
// false result means "not confirmed", not "state unchanged".
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/obs"
)

// Kind classifies one attempt.
type Kind int

const (
	// Succeeded ends the chain with success.
	Succeeded Kind = iota
	// NotFound means the thing the attempt looks for was absent.
	NotFound
	// Failed means the attempt found its target but could not complete.
	Failed
	// Fatal means the session is unusable; remaining attempts are skipped.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrExhausted is returned when every attempt ran and none succeeded.
var ErrExhausted = errs.New(errs.NotFound, "all fallback attempts exhausted")

// Attempt is one named strategy. Run returns nil on success.
type Attempt struct {
	Name string
	Run  func(ctx context.Context) error
}

// Try builds an Attempt.
func Try(name string, run func(ctx context.Context) error) Attempt {
	return Attempt{Name: name, Run: run}
}

// Check builds an Attempt from a boolean probe; false counts as Failed.
func Check(name string, probe func(ctx context.Context) bool) Attempt {
	return Attempt{Name: name, Run: func(ctx context.Context) error {
		if probe(ctx) {
			return nil
		}
		return errs.New(errs.Internal, name+" reported no success")
	}}
}

// Classify maps an attempt error to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return Succeeded
	}
	switch errs.CodeOf(err) {
	case errs.NotFound:
		return NotFound
	case errs.Unavailable, errs.Aborted:
		return Fatal
	default:
		return Failed
	}
}

// Result records what one attempt did.
type Result struct {
	Name string
	Kind Kind
	Err  error
}

// Trace lists the attempts that actually ran, in order.
type Trace struct {
	Action  string
	Results []Result
}

// Tried is the number of attempts invoked.
func (t Trace) Tried() int { return len(t.Results) }

// Winner names the succeeding attempt, or "" when none succeeded.
func (t Trace) Winner() string {
	for _, r := range t.Results {
		if r.Kind == Succeeded {
			return r.Name
		}
	}
	return ""
}

// Summary renders the trace as "name=kind" pairs for record details.
func (t Trace) Summary() string {
	parts := make([]string, 0, len(t.Results))
	for _, r := range t.Results {
		parts = append(parts, r.Name+"="+r.Kind.String())
	}
	return strings.Join(parts, ",")
}

// Observer is told about every attempt, e.g. to count them in metrics.
type Observer func(action string, result Result)

// Executor runs attempt chains.
type Executor struct {
	observe Observer
}

// New returns an executor. observe may be nil.
func New(observe Observer) *Executor {
	return &Executor{observe: observe}
}

// Do runs attempts in order. It returns nil after the first success,
// ErrExhausted when all attempts ran without success, or the fatal error
// that stopped the chain.
func (e *Executor) Do(ctx context.Context, action string, attempts ...Attempt) (Trace, error) {
	trace := Trace{Action: action}
	logger := obs.From(ctx).With("pkg", "fallback", "action", action)

	for i, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return trace, errs.Wrap(errs.Aborted, action+" cancelled", err)
		}

		name := attempt.Name
		if name == "" {
			name = fmt.Sprintf("attempt-%d", i+1)
		}
		err := runAttempt(obs.WithAttempt(ctx, name), attempt.Run)
		result := Result{Name: name, Kind: Classify(err), Err: err}
		trace.Results = append(trace.Results, result)
		if e != nil && e.observe != nil {
			e.observe(action, result)
		}

		switch result.Kind {
		case Succeeded:
			logger.Debug("fallback_succeeded", "attempt", name, "tried", trace.Tried())
			return trace, nil
		case Fatal:
			logger.Warn("fallback_aborted", "attempt", name, "error", err.Error())
			return trace, err
		default:
			logger.Debug("fallback_attempt_missed", "attempt", name, "kind", result.Kind.String(), "error", err.Error())
		}
	}

	logger.Info("fallback_exhausted", "tried", trace.Tried())
	return trace, exhausted(trace)
}

// Any runs attempts and reports only whether one succeeded.
func (e *Executor) Any(ctx context.Context, action string, attempts ...Attempt) bool {
	_, err := e.Do(ctx, action, attempts...)
	return err == nil
}

func exhausted(trace Trace) error {
	if len(trace.Results) == 0 {
		return ErrExhausted
	}
	last := trace.Results[len(trace.Results)-1].Err
	return errs.Wrap(errs.NotFound, fmt.Sprintf("%s: %d attempt(s) exhausted", trace.Action, trace.Tried()), errors.Join(ErrExhausted, last))
}

// runAttempt turns a panicking attempt into a Failed one.
func runAttempt(ctx context.Context, run func(ctx context.Context) error) (err error) {
	if run == nil {
		return errs.New(errs.InvalidArgument, "attempt has no function")
	}
	defer func() {
		if p := recover(); p != nil {
			err = errs.New(errs.Internal, fmt.Sprintf("attempt panicked: %v", p))
		}
	}()
	return run(ctx)
}
