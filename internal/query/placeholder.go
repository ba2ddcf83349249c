package query

import (
	"strconv"
	"strings"
)

// scanPlaceholders walks sql and calls fn for every $n placeholder outside a
// single-quoted literal. fn returns the replacement index.
func scanPlaceholders(sql string, fn func(n int) int) string {
	var b strings.Builder
	b.Grow(len(sql) + 8)
	inQuote := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c == '\'' {
			inQuote = !inQuote
			b.WriteByte(c)
			continue
		}
		if inQuote || c != '$' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		n, _ := strconv.Atoi(sql[i+1 : j])
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(fn(n)))
		i = j - 1
	}
	return b.String()
}

// rebase shifts every placeholder in sql by offset.
func rebase(sql string, offset int) string {
	if offset == 0 {
		return sql
	}
	return scanPlaceholders(sql, func(n int) int { return n + offset })
}

// Placeholders returns the placeholder indexes of sql in text order.
func Placeholders(sql string) []int {
	var out []int
	scanPlaceholders(sql, func(n int) int {
		out = append(out, n)
		return n
	})
	return out
}
