package query

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExprToCondition compiles a filter AST into a parameterized SQL Predicate
// against the given field map, enforcing the compilation rules of spec §4.2
// exactly.
func ExprToCondition(e Expr, fm *FieldMap) (Predicate, error) {
	switch x := e.(type) {
	case AndExpr:
		l, err := ExprToCondition(x.L, fm)
		if err != nil {
			return Predicate{}, err
		}
		r, err := ExprToCondition(x.R, fm)
		if err != nil {
			return Predicate{}, err
		}
		return l.And(r), nil

	case OrExpr:
		l, err := ExprToCondition(x.L, fm)
		if err != nil {
			return Predicate{}, err
		}
		r, err := ExprToCondition(x.R, fm)
		if err != nil {
			return Predicate{}, err
		}
		return l.Or(r), nil

	case NotExpr:
		inner, err := ExprToCondition(x.E, fm)
		if err != nil {
			return Predicate{}, err
		}
		return inner.Not(), nil

	case CompareExpr:
		return compileCompare(x, fm)

	case InExpr:
		return compileIn(x, fm)

	case FunctionExpr:
		return compileFunction(x, fm)

	case IdentifierExpr:
		return Predicate{}, errBareIdentifier(x.Name)

	case ValueExpr:
		return Predicate{}, errBareLiteral

	default:
		return Predicate{}, errOther("unrecognized expression node")
	}
}

func compileCompare(x CompareExpr, fm *FieldMap) (Predicate, error) {
	ident, identOK := x.Ident.(IdentifierExpr)
	val, valOK := x.Val.(ValueExpr)

	if !identOK {
		return Predicate{}, errOther("left side of a comparison must be a field")
	}
	if !valOK {
		if _, rhsIsIdent := x.Val.(IdentifierExpr); rhsIsIdent {
			return Predicate{}, errOther("field-to-field comparison is not supported")
		}
		return Predicate{}, errOther("right side of a comparison must be a literal")
	}

	field, ok := fm.Get(ident.Name)
	if !ok {
		return Predicate{}, errUnknownField(ident.Name)
	}

	if val.V.Tag == TagNull {
		switch x.Op {
		case OpEq:
			return literalPredicate(field.Column.Expr() + " IS NULL"), nil
		case OpNe:
			return literalPredicate(field.Column.Expr() + " IS NOT NULL"), nil
		default:
			return Predicate{}, errUnsupportedOp(x.Op)
		}
	}

	arg, err := coerce(field.Kind, val.V)
	if err != nil {
		return Predicate{}, err
	}
	return literalPredicate(field.Column.Expr()+" "+x.Op.sql()+" ?", arg), nil
}

func compileIn(x InExpr, fm *FieldMap) (Predicate, error) {
	ident, ok := x.Ident.(IdentifierExpr)
	if !ok {
		return Predicate{}, errOther("left side of IN must be a field")
	}
	field, ok := fm.Get(ident.Name)
	if !ok {
		return Predicate{}, errUnknownField(ident.Name)
	}
	if len(x.List) == 0 {
		return FalsePredicate(), nil
	}

	args := make([]any, 0, len(x.List))
	for _, item := range x.List {
		ve, ok := item.(ValueExpr)
		if !ok {
			return Predicate{}, errNonLiteralInList
		}
		if ve.V.Tag == TagNull {
			return Predicate{}, errTypeMismatch(field.Kind, TagNull)
		}
		arg, err := coerce(field.Kind, ve.V)
		if err != nil {
			return Predicate{}, err
		}
		args = append(args, arg)
	}

	placeholders := strings.Repeat("?,", len(args))
	placeholders = placeholders[:len(placeholders)-1]
	return literalPredicate(field.Column.Expr()+" IN ("+placeholders+")", args...), nil
}

func compileFunction(x FunctionExpr, fm *FieldMap) (Predicate, error) {
	switch x.Name {
	case "contains", "startswith", "endswith":
		// fallthrough to shared handling below
	default:
		return Predicate{}, errUnsupportedFn(x.Name)
	}

	if len(x.Args) != 2 {
		return Predicate{}, errUnsupportedFn(x.Name)
	}
	ident, ok := x.Args[0].(IdentifierExpr)
	if !ok {
		return Predicate{}, errUnsupportedFn(x.Name)
	}
	lit, ok := x.Args[1].(ValueExpr)
	if !ok || lit.V.Tag != TagString {
		return Predicate{}, errUnsupportedFn(x.Name)
	}

	field, ok := fm.Get(ident.Name)
	if !ok {
		return Predicate{}, errUnknownField(ident.Name)
	}
	if field.Kind != KindString {
		return Predicate{}, errTypeMismatch(KindString, TagString)
	}

	escaped := likeEscape(lit.V.Str)
	var pattern string
	switch x.Name {
	case "contains":
		pattern = "%" + escaped + "%"
	case "startswith":
		pattern = escaped + "%"
	case "endswith":
		pattern = "%" + escaped
	}
	return literalPredicate(field.Column.Expr()+" LIKE ? ESCAPE '\\'", pattern), nil
}

func likeEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch ch {
		case '%', '_', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// coerce converts a literal Value to the wire representation a pgx argument
// uses for the target Kind, per the coercion table in spec §4.2.
func coerce(kind Kind, v Value) (any, error) {
	switch kind {
	case KindString:
		if v.Tag == TagString {
			return v.Str, nil
		}
	case KindI64:
		if v.Tag == TagNumber {
			f, err := strconv.ParseFloat(v.Num, 64)
			if err != nil || math.Trunc(f) != f {
				i, err2 := strconv.ParseInt(v.Num, 10, 64)
				if err2 != nil {
					return nil, errTypeMismatch(KindI64, TagNumber)
				}
				return i, nil
			}
			i := int64(f)
			if float64(i) != f {
				return nil, errTypeMismatch(KindI64, TagNumber)
			}
			return i, nil
		}
	case KindF64:
		if v.Tag == TagNumber {
			f, err := strconv.ParseFloat(v.Num, 64)
			if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
				return nil, errTypeMismatch(KindF64, TagNumber)
			}
			return f, nil
		}
	case KindDecimal:
		if v.Tag == TagNumber {
			d, err := decimal.NewFromString(v.Num)
			if err != nil {
				return nil, errTypeMismatch(KindDecimal, TagNumber)
			}
			return d, nil
		}
	case KindBool:
		if v.Tag == TagBool {
			return v.Bool, nil
		}
	case KindUuid:
		if v.Tag == TagUuid {
			return v.UUID, nil
		}
	case KindDateTimeUtc:
		if v.Tag == TagDateTime {
			if v.DateTime.Location() != time.UTC {
				return nil, errTypeMismatch(KindDateTimeUtc, TagDateTime)
			}
			return v.DateTime, nil
		}
	case KindDate:
		if v.Tag == TagDate {
			return v.Date, nil
		}
	case KindTime:
		if v.Tag == TagTime {
			return v.Time, nil
		}
	}
	return nil, errTypeMismatch(kind, v.Tag)
}
