// Package timecontrol defines the fixed set of clock settings players can queue for.
package timecontrol

import (
	"errors"
	"fmt"
	"time"
)

// Class is the 1-based wire index of a time control.
type Class int

// TimeControl is initial minutes plus per-move increment seconds.
type TimeControl struct {
	Init      int `json:"init"`
	Increment int `json:"increment"`
}

var ErrUnknownClass = errors.New("unknown time control")

var table = [...]TimeControl{
	{Init: 1, Increment: 0},
	{Init: 1, Increment: 1},
	{Init: 3, Increment: 0},
	{Init: 3, Increment: 1},
	{Init: 5, Increment: 0},
	{Init: 5, Increment: 1},
	{Init: 10, Increment: 0},
	{Init: 10, Increment: 5},
	{Init: 30, Increment: 0},
	{Init: 30, Increment: 15},
	{Init: 60, Increment: 0},
	{Init: 60, Increment: 20},
}

// Parse validates a wire index.
func Parse(index int) (Class, error) {
	c := Class(index)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownClass, index)
	}
	return c, nil
}

// All returns every class in table order.
func All() []Class {
	out := make([]Class, len(table))
	for i := range table {
		out[i] = Class(i + 1)
	}
	return out
}

func (c Class) Valid() bool { return c >= 1 && int(c) <= len(table) }

// Control returns the settings for c. Invalid classes return the zero value.
func (c Class) Control() TimeControl {
	if !c.Valid() {
		return TimeControl{}
	}
	return table[c-1]
}

func (c Class) String() string {
	tc := c.Control()
	return fmt.Sprintf("%d+%d", tc.Init, tc.Increment)
}

// InitialMillis is the starting clock of each side.
func (tc TimeControl) InitialMillis() int64 {
	return int64(time.Duration(tc.Init) * time.Minute / time.Millisecond)
}

// IncrementMillis is added to the mover's clock after each move.
func (tc TimeControl) IncrementMillis() int64 {
	return int64(time.Duration(tc.Increment) * time.Second / time.Millisecond)
}
