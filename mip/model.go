// Package mip holds a small mixed-integer linear programming model and the
// solvers the auction engine runs on it.
//
// A Model is built once and handed to a Solver. Variables are referenced by
// index. Every variable needs a finite lower bound.
package mip

import (
	"fmt"
	"math"
	"strings"
)

// VarType is the domain of a variable.
type VarType int

const (
	Continuous VarType = iota
	Integer
	Binary
)

func (t VarType) String() string {
	switch t {
	case Continuous:
		return "continuous"
	case Integer:
		return "integer"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("vartype(%d)", int(t))
	}
}

// Var is the index of a variable in its Model.
type Var int

// Inf is the bound for unbounded-above variables.
var Inf = math.Inf(1)

type variable struct {
	name string
	typ  VarType
	lb   float64
	ub   float64
}

// Term is coefficient times variable.
type Term struct {
	Var  Var
	Coef float64
}

// Expr is a linear expression: a sum of terms plus a constant.
type Expr struct {
	Terms    []Term
	Constant float64
}

// NewExpr returns an expression holding only a constant.
func NewExpr(constant float64) *Expr {
	return &Expr{Constant: constant}
}

// Sum returns the unit-coefficient sum of vars.
func Sum(vars ...Var) *Expr {
	e := &Expr{Terms: make([]Term, 0, len(vars))}
	for _, v := range vars {
		e.Terms = append(e.Terms, Term{Var: v, Coef: 1})
	}
	return e
}

// AddTerm adds coef*v and returns e for chaining.
func (e *Expr) AddTerm(v Var, coef float64) *Expr {
	e.Terms = append(e.Terms, Term{Var: v, Coef: coef})
	return e
}

// AddConstant adds c to the constant part.
func (e *Expr) AddConstant(c float64) *Expr {
	e.Constant += c
	return e
}

// AddExpr adds scale*o.
func (e *Expr) AddExpr(o *Expr, scale float64) *Expr {
	for _, t := range o.Terms {
		e.Terms = append(e.Terms, Term{Var: t.Var, Coef: scale * t.Coef})
	}
	e.Constant += scale * o.Constant
	return e
}

// Clone returns an independent copy.
func (e *Expr) Clone() *Expr {
	c := &Expr{Terms: make([]Term, len(e.Terms)), Constant: e.Constant}
	copy(c.Terms, e.Terms)
	return c
}

// Eval evaluates e at values.
func (e *Expr) Eval(values []float64) float64 {
	total := e.Constant
	for _, t := range e.Terms {
		total += t.Coef * values[t.Var]
	}
	return total
}

// Sense is the relation of a constraint.
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	default:
		return "="
	}
}

// Constraint reads Expr Sense RHS.
type Constraint struct {
	Name  string
	Expr  *Expr
	Sense Sense
	RHS   float64
}

// Model is a mixed-integer linear program.
type Model struct {
	name        string
	vars        []variable
	constraints []Constraint
	objective   *Expr
	maximize    bool
}

// NewModel creates an empty minimization model.
func NewModel(name string) *Model {
	return &Model{
		name:      name,
		objective: NewExpr(0),
	}
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// AddVar adds a variable. Binary variables have their bounds clamped to [0, 1].
func (m *Model) AddVar(name string, typ VarType, lb, ub float64) Var {
	if typ == Binary {
		lb = math.Max(lb, 0)
		ub = math.Min(ub, 1)
	}
	m.vars = append(m.vars, variable{name: name, typ: typ, lb: lb, ub: ub})
	return Var(len(m.vars) - 1)
}

// AddBinary adds a 0/1 variable.
func (m *Model) AddBinary(name string) Var {
	return m.AddVar(name, Binary, 0, 1)
}

// AddConstraint adds e sense rhs. The constant of e is moved to the right-hand side.
func (m *Model) AddConstraint(name string, e *Expr, sense Sense, rhs float64) {
	m.constraints = append(m.constraints, Constraint{Name: name, Expr: e.Clone(), Sense: sense, RHS: rhs})
}

// SetObjective replaces the objective.
func (m *Model) SetObjective(e *Expr, maximize bool) {
	m.objective = e.Clone()
	m.maximize = maximize
}

// Objective returns the objective expression and direction.
func (m *Model) Objective() (*Expr, bool) {
	return m.objective, m.maximize
}

func (m *Model) NumVars() int        { return len(m.vars) }
func (m *Model) NumConstraints() int { return len(m.constraints) }

func (m *Model) VarName(v Var) string  { return m.vars[v].name }
func (m *Model) VarType(v Var) VarType { return m.vars[v].typ }

func (m *Model) Bounds(v Var) (float64, float64) {
	return m.vars[v].lb, m.vars[v].ub
}

// SetBounds replaces the bounds of v.
func (m *Model) SetBounds(v Var, lb, ub float64) {
	m.vars[v].lb = lb
	m.vars[v].ub = ub
}

// Constraints returns the constraints. The slice must not be modified.
func (m *Model) Constraints() []Constraint {
	return m.constraints
}

// Clone returns a deep copy that can be extended independently.
func (m *Model) Clone() *Model {
	c := &Model{
		name:        m.name,
		vars:        make([]variable, len(m.vars)),
		constraints: make([]Constraint, len(m.constraints)),
		objective:   m.objective.Clone(),
		maximize:    m.maximize,
	}
	copy(c.vars, m.vars)
	for i, con := range m.constraints {
		con.Expr = con.Expr.Clone()
		c.constraints[i] = con
	}
	return c
}

// Validate checks bounds and coefficients.
func (m *Model) Validate() error {
	for _, v := range m.vars {
		if math.IsNaN(v.lb) || math.IsNaN(v.ub) {
			return fmt.Errorf("variable %s: NaN bound", v.name)
		}
		if math.IsInf(v.lb, 0) {
			return fmt.Errorf("variable %s: lower bound must be finite", v.name)
		}
		if v.ub < v.lb {
			return fmt.Errorf("variable %s: upper bound %v below lower bound %v", v.name, v.ub, v.lb)
		}
	}
	check := func(where string, e *Expr) error {
		for _, t := range e.Terms {
			if int(t.Var) < 0 || int(t.Var) >= len(m.vars) {
				return fmt.Errorf("%s: unknown variable %d", where, t.Var)
			}
			if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
				return fmt.Errorf("%s: coefficient of %s is not finite", where, m.vars[t.Var].name)
			}
		}
		return nil
	}
	if err := check("objective", m.objective); err != nil {
		return err
	}
	for _, c := range m.constraints {
		if err := check("constraint "+c.Name, c.Expr); err != nil {
			return err
		}
	}
	return nil
}

// IsFeasible reports whether values satisfy bounds, integrality and every
// constraint within tol.
func (m *Model) IsFeasible(values []float64, tol float64) bool {
	if len(values) != len(m.vars) {
		return false
	}
	for i, v := range m.vars {
		x := values[i]
		if x < v.lb-tol || x > v.ub+tol {
			return false
		}
		if v.typ != Continuous && math.Abs(x-math.Round(x)) > tol {
			return false
		}
	}
	for _, c := range m.constraints {
		lhs := c.Expr.Eval(values)
		switch c.Sense {
		case LessEqual:
			if lhs > c.RHS+tol {
				return false
			}
		case GreaterEqual:
			if lhs < c.RHS-tol {
				return false
			}
		case Equal:
			if math.Abs(lhs-c.RHS) > tol {
				return false
			}
		}
	}
	return true
}

func (m *Model) String() string {
	var sb strings.Builder
	dir := "minimize"
	if m.maximize {
		dir = "maximize"
	}
	fmt.Fprintf(&sb, "%s %s: %d vars, %d constraints", dir, m.name, len(m.vars), len(m.constraints))
	return sb.String()
}
