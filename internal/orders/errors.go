package orders

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrOrderNotFound = errors.New("order not found")

// ValidationError reports malformed or missing client input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// NotFoundError lists cart item ids absent from the catalog.
type NotFoundError struct {
	Missing []int64
}

func (e *NotFoundError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return "some items not found: " + strings.Join(ids, ",")
}

type OutOfStockError struct {
	ItemID    int64
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: item %d requested %d available %d", e.ItemID, e.Requested, e.Available)
}

// TransientError wraps storage failures that are safe to retry: nothing was committed.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError wraps unexpected storage failures and invariant violations.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }
