package physical

import "strings"

// appendPushdownClause splices an extra predicate onto a pre-rendered
// push-down SQL string. ScanConfig.SQL is always a flat string built
// upstream rather than an expr.Node tree, so tightening it with a
// side-channel predicate (a bloom IN-list, a top-K threshold) means textual
// splicing instead of AST composition: AND onto an existing WHERE clause,
// or introduce one.
func appendPushdownClause(sql, clause string) string {
	if strings.Contains(strings.ToUpper(sql), " WHERE ") {
		return sql + " AND " + clause
	}
	return sql + " WHERE " + clause
}
