// Package expr interprets rule conditions as a small whitelisted
// expression language.
//
// Conditions are parsed to a closed AST at rule-definition time and
// interpreted against an environment of named values (key, old_entry,
// new_entry). The grammar admits field paths with dotted access and
// integer indexing, string/number/bool/null literals, the comparison
// operators, membership ("in"), and and/or/not with parentheses.
// Nothing else parses; stored text is never executed as code.
package expr
