// Package block defines the unit of work a saga phase delegates to. A block is
// a provider call or an internal bookkeeping step; the saga never talks to a
// provider directly.
package block

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/yourorg/payment-flow/internal/payment"
)

// Args are the caller-supplied, phase-specific arguments. Values usually come
// straight from a decoded JSON body.
type Args map[string]any

// String returns the string value under key, or "" when absent or not a string.
func (a Args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Int64 returns the integer value under key. JSON numbers decode as float64,
// so those are accepted as long as they carry no fraction.
func (a Args) Int64(key string) (int64, bool) {
	switch v := a[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Clone returns a shallow copy so a block cannot change what the next one sees.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Block performs one step of a phase for a payment method.
//
// Run reports domain outcomes through the returned BlockResponse. A non-nil
// error means the block could not produce an outcome at all; the saga treats
// it as FAILED with the error text.
type Block interface {
	Name() string
	Run(ctx context.Context, pm *payment.PaymentMethod, args Args) (payment.BlockResponse, error)
}

// RunFunc is the signature of Block.Run.
type RunFunc func(ctx context.Context, pm *payment.PaymentMethod, args Args) (payment.BlockResponse, error)

// Func adapts a plain function into a Block.
type Func struct {
	name string
	fn   RunFunc
}

// NewFunc names fn so it can be wired into a saga.
func NewFunc(name string, fn RunFunc) *Func {
	if fn == nil {
		panic(fmt.Sprintf("block %q: nil run func", name))
	}
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Run(ctx context.Context, pm *payment.PaymentMethod, args Args) (payment.BlockResponse, error) {
	return f.fn(ctx, pm, args)
}
