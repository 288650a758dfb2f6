package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/campus/core"
)

const (
	orderingParam = "ordering"
	limitParam    = "limit"
	offsetParam   = "offset"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindPage reads the limit & offset query params; invalid values are ignored.
func bindPage(ctx echo.Context) core.Page {
	var page core.Page
	if limit, err := strconv.Atoi(ctx.QueryParam(limitParam)); err == nil {
		page.Limit = limit
	}
	if offset, err := strconv.Atoi(ctx.QueryParam(offsetParam)); err == nil {
		page.Offset = offset
	}
	page.Clean()
	return page
}
