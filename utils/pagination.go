package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ParsePagination reads page and limit query parameters. Missing or invalid
// values fall back to page 1 and DefaultPageLimit; limit is capped at
// MaxPageLimit.
func ParsePagination(c echo.Context) (page, limit int) {
	page, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
