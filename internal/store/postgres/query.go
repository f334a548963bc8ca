package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// whereRange builds "WHERE col >= $n AND col < $m" for the bounds that are
// set, appending their values to args.
func whereRange(col string, since, until *time.Time, args []any) (string, []any) {
	var conds []string
	if since != nil {
		args = append(args, *since)
		conds = append(conds, fmt.Sprintf("%s >= $%d", col, len(args)))
	}
	if until != nil {
		args = append(args, *until)
		conds = append(conds, fmt.Sprintf("%s < $%d", col, len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// page clamps limit and offset and appends the LIMIT/OFFSET clause.
func page(opts domain.ListOpts, args []any) (string, []any, int, int) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset := max(opts.Offset, 0)
	args = append(args, limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args, limit, offset
}
