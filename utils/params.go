package utils

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// MaxPostbackDelay bounds the artificial postback delay, in seconds.
const MaxPostbackDelay = 600

// MaxPage caps page numbers so page*perPage stays well inside int.
const MaxPage = 1 << 24

func ParseIntDefault(s string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && v >= 0 {
		return v
	}
	return def
}

// ParseDelay reads a delay in whole seconds. Anything non-numeric or outside
// [0, MaxPostbackDelay] yields 0.
func ParseDelay(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 || v > MaxPostbackDelay {
		return 0
	}
	return v
}

// Pagination turns page/per_page query values into offset and limit. Pages
// past MaxPage, including numbers too large for int, read as MaxPage.
func Pagination(pageRaw, perPageRaw string, defPerPage, maxPerPage int) (page, perPage, offset int) {
	pageRaw = strings.TrimSpace(pageRaw)
	page = ParseIntDefault(pageRaw, 1)
	if _, err := strconv.Atoi(pageRaw); errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(pageRaw, "-") {
		page = MaxPage
	}
	perPage = ParseIntDefault(perPageRaw, defPerPage)
	if perPage < 1 {
		perPage = defPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	page, offset = PageOffset(page, perPage)
	return page, perPage, offset
}

// PageOffset clamps page to [1, MaxPage] and returns it with the offset of
// its first row. perPage must be positive.
func PageOffset(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	return page, (page - 1) * perPage
}

// MerchantReference returns the default merchant reference: the current Unix time.
func MerchantReference(now time.Time) string {
	return strconv.FormatInt(now.Unix(), 10)
}
