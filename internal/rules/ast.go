package rules

// Expr is a compiled node of the bounded boolean/arithmetic sublanguage.
// Compilation happens once at startup (see Cache); Eval never mutates the
// tree, so a single *Expr is safe to share across every equipment whose
// rule uses the identical source text.
type Expr interface {
	eval(sym SymbolTable) (Value, error)
}

// NumberLit is a numeric literal.
type NumberLit float64

func (n NumberLit) eval(SymbolTable) (Value, error) { return Value{Kind: KindNumber, Num: float64(n)}, nil }

// BoolLit is a boolean literal (the tokens "true"/"false").
type BoolLit bool

func (b BoolLit) eval(SymbolTable) (Value, error) { return Value{Kind: KindBool, Bool: bool(b)}, nil }

// StringLit is a quoted string literal.
type StringLit string

func (s StringLit) eval(SymbolTable) (Value, error) { return Value{Kind: KindString, Str: string(s)}, nil }

// Ident resolves a tag name against the symbol table at evaluation time.
type Ident string

func (id Ident) eval(sym SymbolTable) (Value, error) {
	v, ok := sym[string(id)]
	if !ok {
		return Value{}, &EvalError{Reason: "unknown identifier", Detail: string(id)}
	}
	return v, nil
}

// UnaryExpr is a prefix +, -, or not.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

func (u *UnaryExpr) eval(sym SymbolTable) (Value, error) {
	v, err := u.Operand.eval(sym)
	if err != nil {
		return Value{}, err
	}
	switch u.Op {
	case "not":
		return Value{Kind: KindBool, Bool: !v.Truthy()}, nil
	case "-":
		f, ok := v.AsNumber()
		if !ok {
			return Value{}, &EvalError{Reason: "unary - on non-numeric value"}
		}
		return Value{Kind: KindNumber, Num: -f}, nil
	case "+":
		f, ok := v.AsNumber()
		if !ok {
			return Value{}, &EvalError{Reason: "unary + on non-numeric value"}
		}
		return Value{Kind: KindNumber, Num: f}, nil
	}
	return Value{}, &EvalError{Reason: "unknown unary operator", Detail: u.Op}
}

// BinaryExpr is an arithmetic or comparison operator. and/or are modeled
// separately (LogicalExpr) so their short-circuit semantics are explicit.
type BinaryExpr struct {
	Op          string
	Left, Right Expr
}

func (b *BinaryExpr) eval(sym SymbolTable) (Value, error) {
	l, err := b.Left.eval(sym)
	if err != nil {
		return Value{}, err
	}
	r, err := b.Right.eval(sym)
	if err != nil {
		return Value{}, err
	}

	switch b.Op {
	case "+", "-", "*", "/", "%":
		lf, lok := l.AsNumber()
		rf, rok := r.AsNumber()
		if !lok || !rok {
			return Value{}, &EvalError{Reason: "arithmetic on non-numeric operand", Detail: b.Op}
		}
		switch b.Op {
		case "+":
			return Value{Kind: KindNumber, Num: lf + rf}, nil
		case "-":
			return Value{Kind: KindNumber, Num: lf - rf}, nil
		case "*":
			return Value{Kind: KindNumber, Num: lf * rf}, nil
		case "/":
			if rf == 0 {
				return Value{}, &EvalError{Reason: "division by zero"}
			}
			return Value{Kind: KindNumber, Num: lf / rf}, nil
		case "%":
			if rf == 0 {
				return Value{}, &EvalError{Reason: "modulo by zero"}
			}
			return Value{Kind: KindNumber, Num: float64(int64(lf) % int64(rf))}, nil
		}
	case "<", "<=", ">", ">=":
		lf, lok := l.AsNumber()
		rf, rok := r.AsNumber()
		if !lok || !rok {
			return Value{}, &EvalError{Reason: "comparison on non-numeric operand", Detail: b.Op}
		}
		var res bool
		switch b.Op {
		case "<":
			res = lf < rf
		case "<=":
			res = lf <= rf
		case ">":
			res = lf > rf
		case ">=":
			res = lf >= rf
		}
		return Value{Kind: KindBool, Bool: res}, nil
	case "==", "!=":
		eq := l.Equal(r)
		if b.Op == "!=" {
			eq = !eq
		}
		return Value{Kind: KindBool, Bool: eq}, nil
	}
	return Value{}, &EvalError{Reason: "unknown binary operator", Detail: b.Op}
}

// LogicalExpr is short-circuit and/or.
type LogicalExpr struct {
	Op          string // "and" or "or"
	Left, Right Expr
}

func (l *LogicalExpr) eval(sym SymbolTable) (Value, error) {
	lv, err := l.Left.eval(sym)
	if err != nil {
		return Value{}, err
	}
	if l.Op == "and" && !lv.Truthy() {
		return Value{Kind: KindBool, Bool: false}, nil
	}
	if l.Op == "or" && lv.Truthy() {
		return Value{Kind: KindBool, Bool: true}, nil
	}
	rv, err := l.Right.eval(sym)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindBool, Bool: rv.Truthy()}, nil
}
