package relation

// Restriction narrows a query. Restrictions compose with Apply.
type Restriction func(*Query) *Query

// Match restricts to tuples matching cond.
func Match(cond Tuple) Restriction {
	return func(q *Query) *Query { return q.Restrict(cond) }
}

// MatchAny restricts to tuples matching any of conds.
func MatchAny(conds ...Tuple) Restriction {
	return func(q *Query) *Query { return q.RestrictAny(conds) }
}

// In restricts to tuples matching some tuple of other.
func In(other *Query) Restriction {
	return func(q *Query) *Query { return q.RestrictBy(other) }
}

// NotIn restricts to tuples matching no tuple of other.
func NotIn(other *Query) Restriction {
	return func(q *Query) *Query { return q.Minus(other) }
}

// Apply applies rs in order; nil restrictions are skipped.
func (q *Query) Apply(rs ...Restriction) *Query {
	for _, r := range rs {
		if r != nil {
			q = r(q)
		}
	}
	return q
}
