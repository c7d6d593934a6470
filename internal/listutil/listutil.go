// Package listutil parses paging parameters for the admin list endpoints
// (students, error reports, mock tests) and computes page metadata.
package listutil

import (
	"net/url"
	"strconv"
	"strings"
)

const DefaultPerPage = 20

// PerPageOptions are the allowed rows-per-page values.
var PerPageOptions = []int{10, 20, 50, 100}

type PageParams struct {
	Page    int
	PerPage int
}

// ListParams is a page plus the free-text search shared by every list.
type ListParams struct {
	PageParams
	Search string
}

type PageInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Page is one page of a list response.
type Page[T any] struct {
	Items []T `json:"items"`
	PageInfo
}

// ParsePageParams reads page and per_page. Unknown per_page values fall back
// to DefaultPerPage; page is at least 1.
func ParsePageParams(q url.Values) PageParams {
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if !isValidPerPage(perPage) {
		perPage = DefaultPerPage
	}
	return PageParams{Page: page, PerPage: perPage}
}

func ParseListParams(q url.Values) ListParams {
	return ListParams{
		PageParams: ParsePageParams(q),
		Search:     strings.TrimSpace(q.Get("q")),
	}
}

// Normalize applies the ParsePageParams defaults to params built in code.
func (p PageParams) Normalize() PageParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if !isValidPerPage(p.PerPage) {
		p.PerPage = DefaultPerPage
	}
	return p
}

func (p PageParams) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// NewPageInfo computes page metadata. TotalPages is at least 1 so an empty
// list still renders as "page 1 of 1".
func NewPageInfo(p PageParams, total int) PageInfo {
	perPage := p.PerPage
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return PageInfo{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

func NewPage[T any](items []T, p PageParams, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, PageInfo: NewPageInfo(p, total)}
}

func isValidPerPage(n int) bool {
	for _, opt := range PerPageOptions {
		if n == opt {
			return true
		}
	}
	return false
}
