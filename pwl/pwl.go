// Package pwl implements continuous piecewise-linear functions given by corner
// points, and their encoding into mixed-integer programs.
package pwl

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/mip"
)

// Precision is the number of decimal places corners are rounded to.
const Precision int32 = 6

var (
	ErrTooFewCorners   = errors.New("pwl: at least two distinct corners required")
	ErrNotMonotoneX    = errors.New("pwl: corner x values must be non-decreasing")
	ErrDiscontinuous   = errors.New("pwl: two corners share x with different y")
	ErrOutsideDomain   = errors.New("pwl: x outside function domain")
	ErrNonFiniteCorner = errors.New("pwl: corner is not finite")
)

// Point is a corner of a Function.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Function is an immutable continuous piecewise-linear function.
type Function struct {
	corners []Point
}

func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(Precision).InexactFloat64()
}

// New validates and normalizes corners: they are rounded to Precision,
// exact duplicates are dropped.
func New(points ...Point) (*Function, error) {
	corners := make([]Point, 0, len(points))
	for i, p := range points {
		if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
			return nil, fmt.Errorf("%w: corner %d", ErrNonFiniteCorner, i)
		}
		p = Point{X: round(p.X), Y: round(p.Y)}
		if n := len(corners); n > 0 {
			last := corners[n-1]
			if p.X < last.X {
				return nil, fmt.Errorf("%w: corner %d has x=%v after x=%v", ErrNotMonotoneX, i, p.X, last.X)
			}
			if p.X == last.X {
				if p.Y != last.Y {
					return nil, fmt.Errorf("%w: x=%v", ErrDiscontinuous, p.X)
				}
				continue
			}
		}
		corners = append(corners, p)
	}
	if len(corners) < 2 {
		return nil, ErrTooFewCorners
	}
	return &Function{corners: corners}, nil
}

// MustNew is New that panics on error. Meant for literals.
func MustNew(points ...Point) *Function {
	f, err := New(points...)
	if err != nil {
		panic(err)
	}
	return f
}

// Corners returns a copy of the normalized corners.
func (f *Function) Corners() []Point {
	c := make([]Point, len(f.corners))
	copy(c, f.corners)
	return c
}

// Segments is the number of linear pieces.
func (f *Function) Segments() int {
	return len(f.corners) - 1
}

// Domain returns the smallest and largest x.
func (f *Function) Domain() (float64, float64) {
	return f.corners[0].X, f.corners[len(f.corners)-1].X
}

// Range returns the smallest and largest y over the domain.
func (f *Function) Range() (float64, float64) {
	lo, hi := f.corners[0].Y, f.corners[0].Y
	for _, c := range f.corners[1:] {
		lo = math.Min(lo, c.Y)
		hi = math.Max(hi, c.Y)
	}
	return lo, hi
}

// Slope returns the slope of segment i (1-based, between corners i-1 and i).
func (f *Function) Slope(i int) float64 {
	a, b := f.corners[i-1], f.corners[i]
	return (b.Y - a.Y) / (b.X - a.X)
}

// Evaluate interpolates f at x.
func (f *Function) Evaluate(x float64) (float64, error) {
	lo, hi := f.Domain()
	if x < lo || x > hi {
		return 0, fmt.Errorf("%w: %v not in [%v, %v]", ErrOutsideDomain, x, lo, hi)
	}
	for i := 1; i < len(f.corners); i++ {
		if x <= f.corners[i].X {
			a := f.corners[i-1]
			return a.Y + f.Slope(i)*(x-a.X), nil
		}
	}
	return f.corners[len(f.corners)-1].Y, nil
}

// EvaluateDecimal is Evaluate with the result rounded to Precision.
func (f *Function) EvaluateDecimal(x float64) (decimal.Decimal, error) {
	y, err := f.Evaluate(x)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(y).Round(Precision), nil
}

func (f *Function) String() string {
	return fmt.Sprintf("pwl%v", f.corners)
}

// Encoding holds the auxiliary variables Encode added.
type Encoding struct {
	// Z[i] is one when input lies in segment i+1.
	Z []mip.Var
	// CondX[i] equals input when Z[i] is one and zero otherwise.
	CondX []mip.Var
}

// Encode adds variables and constraints to m so that output = f(input) in
// every feasible solution. Names of added elements start with prefix.
func Encode(m *mip.Model, f *Function, input, output mip.Var, prefix string) *Encoding {
	r := f.Segments()
	enc := &Encoding{
		Z:     make([]mip.Var, r),
		CondX: make([]mip.Var, r),
	}

	sumZ := mip.NewExpr(0)
	sumCondX := mip.NewExpr(0)
	outputExpr := mip.NewExpr(0).AddTerm(output, 1)

	for i := 1; i <= r; i++ {
		prev, cur := f.corners[i-1], f.corners[i]
		z := m.AddBinary(fmt.Sprintf("%s_Z%d", prefix, i))
		condX := m.AddVar(fmt.Sprintf("%s_condX%d", prefix, i), mip.Continuous,
			math.Min(0, prev.X), math.Max(0, cur.X))
		enc.Z[i-1], enc.CondX[i-1] = z, condX

		m.AddConstraint(fmt.Sprintf("%s_lower%d", prefix, i),
			mip.NewExpr(0).AddTerm(condX, 1).AddTerm(z, -prev.X), mip.GreaterEqual, 0)
		m.AddConstraint(fmt.Sprintf("%s_upper%d", prefix, i),
			mip.NewExpr(0).AddTerm(condX, 1).AddTerm(z, -cur.X), mip.LessEqual, 0)

		slope := f.Slope(i)
		outputExpr.AddTerm(z, -(prev.Y-slope*prev.X)).AddTerm(condX, -slope)

		sumZ.AddTerm(z, 1)
		sumCondX.AddTerm(condX, 1)
	}

	m.AddConstraint(prefix+"_oneSegment", sumZ, mip.Equal, 1)
	m.AddConstraint(prefix+"_input", sumCondX.AddTerm(input, -1), mip.Equal, 0)
	m.AddConstraint(prefix+"_output", outputExpr, mip.Equal, 0)

	return enc
}
