// Package classify derives table-independent attributes from a single-zero wheel outcome.
package classify

import "fmt"

// Wheel domain bounds.
const (
	MinValue = 0
	MaxValue = 36

	dozenSize   = 12
	columnCount = 3
	lowMax      = 18
)

// Color of a pocket.
type Color string

// Pocket colors.
const (
	Green Color = "green"
	Red   Color = "red"
	Black Color = "black"
)

// Parity of a non-zero pocket. Zero has no parity.
type Parity string

// Parities.
const (
	ParityNone Parity = ""
	Even       Parity = "even"
	Odd        Parity = "odd"
)

// Half of the table a non-zero pocket belongs to.
type Half string

// Halves.
const (
	HalfNone Half = ""
	Low      Half = "low"
	High     Half = "high"
)

// Attributes are computed purely from a pocket value.
type Attributes struct {
	Color  Color  `json:"color"`
	Parity Parity `json:"parity,omitempty"`
	Half   Half   `json:"half,omitempty"`
	Dozen  int    `json:"dozen,omitempty"`  // 1..3, 0 for zero
	Column int    `json:"column,omitempty"` // 1..3, 0 for zero
}

// red pockets on a single-zero wheel.
var red = [MaxValue + 1]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// InRange reports whether v is a valid pocket.
func InRange(v int) bool {
	return v >= MinValue && v <= MaxValue
}

// Of computes the attributes of v. Out-of-range values yield the zero Attributes.
func Of(v int) Attributes {
	if !InRange(v) {
		return Attributes{}
	}
	if v == 0 {
		return Attributes{Color: Green}
	}

	a := Attributes{
		Color:  Black,
		Parity: Odd,
		Half:   Low,
		Dozen:  (v-1)/dozenSize + 1,
		Column: (v-1)%columnCount + 1,
	}
	if red[v] {
		a.Color = Red
	}
	if v%2 == 0 {
		a.Parity = Even
	}
	if v > lowMax {
		a.Half = High
	}
	return a
}

// ColorOf is a shorthand for Of(v).Color.
func ColorOf(v int) Color {
	return Of(v).Color
}

// Validate returns an error describing why v is not a pocket.
func Validate(v int) error {
	if !InRange(v) {
		return fmt.Errorf("value %d outside [%d, %d]", v, MinValue, MaxValue)
	}
	return nil
}
