// Package guard checks command preconditions before an aggregate triggers
// events, so a rejected command leaves no pending events behind.
package guard

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/codewandler/chronicle-go/core/es"
)

var ErrPrecondition = errors.New("precondition failed")

// Error names the first condition that did not hold.
type Error struct {
	Cond string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", ErrPrecondition, e.Cond) }
func (e *Error) Unwrap() error { return ErrPrecondition }

// Cond is a named condition. Conditions are evaluated lazily.
type Cond struct {
	name string
	ok   func() bool
}

func New(name string, ok func() bool) Cond { return Cond{name: name, ok: ok} }

func (c Cond) String() string { return c.name }
func (c Cond) Eval() bool     { return c.ok() }

func (c Cond) Check() error {
	if !c.ok() {
		return &Error{Cond: c.name}
	}
	return nil
}

func That(v bool, name string) Cond { return New(name, func() bool { return v }) }

func Not(c Cond) Cond {
	return New("not("+c.name+")", func() bool { return !c.ok() })
}

// NotBlank holds when s has a non-space character.
func NotBlank(s, name string) Cond {
	return New(name+" is not blank", func() bool { return strings.TrimSpace(s) != "" })
}

// MaxLen holds when s has at most n runes.
func MaxLen(s string, n int, name string) Cond {
	return New(fmt.Sprintf("%s has at most %d characters", name, n), func() bool {
		return utf8.RuneCountInString(s) <= n
	})
}

// Alive holds while root has not been discarded.
func Alive[S any](root *es.Root[S]) Cond {
	return New(root.AggregateType()+" is not discarded", func() bool { return !root.IsDiscarded() })
}

// Check returns the error of the first condition that fails.
func Check(conds ...Cond) error {
	for _, c := range conds {
		if err := c.Check(); err != nil {
			return err
		}
	}
	return nil
}

// Trigger triggers ev on root once every condition holds.
func Trigger[S any](root *es.Root[S], ev es.Event, conds ...Cond) error {
	if err := Check(conds...); err != nil {
		return err
	}
	return root.Trigger(ev)
}
