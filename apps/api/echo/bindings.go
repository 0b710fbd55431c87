package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
)

const (
	orderingParam = "ordering"
	dateLayout    = "2006-01-02"
)

// bindQuizQuery reads the filters, page and ordering of the quiz list from the query string.
func bindQuizQuery(ctx echo.Context) (quiz.QueryFilter, []core.DBOrdering, error) {
	params := ctx.QueryParams()
	filter := quiz.QueryFilter{
		Search: params.Get("search"),
		Status: params.Get("status"),
		Source: params.Get("source"),
	}

	var err error
	if filter.CreatedFrom, err = queryTime(params.Get("created_from"), false); err != nil {
		return filter, nil, core.NewFieldError("created_from", err.Error())
	}
	if filter.CreatedTo, err = queryTime(params.Get("created_to"), true); err != nil {
		return filter, nil, core.NewFieldError("created_to", err.Error())
	}
	if filter.Limit, err = queryInt(params.Get("limit")); err != nil {
		return filter, nil, core.NewFieldError("limit", err.Error())
	}
	if filter.Offset, err = queryInt(params.Get("offset")); err != nil {
		return filter, nil, core.NewFieldError("offset", err.Error())
	}
	return filter, core.ParseOrderings(params[orderingParam]...), nil
}

type queryError string

func (e queryError) Error() string { return string(e) }

func queryInt(val string) (int, error) {
	if val = strings.TrimSpace(val); val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, queryError("must be a number")
	}
	return n, nil
}

// queryTime accepts RFC3339 timestamps and plain dates. A plain date bound ending a range covers the whole day.
func queryTime(val string, endOfDay bool) (time.Time, error) {
	if val = strings.TrimSpace(val); val == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(dateLayout, val, time.UTC)
	if err != nil {
		return time.Time{}, queryError("must be a date (YYYY-MM-DD) or an RFC3339 timestamp")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
