package query

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cbtadmin/internal/app/apiresp"
)

const SearchPath = "/api/v1/questions"

// HTTPSearcher queries the admin API's question search endpoint.
type HTTPSearcher[T any] struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPSearcher[T any](baseURL, token string) *HTTPSearcher[T] {
	return &HTTPSearcher[T]{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *HTTPSearcher[T]) Search(ctx context.Context, p Params) (Page[T], error) {
	u := h.BaseURL + SearchPath
	if q := p.Encode(); q != "" {
		u += "?" + q
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page[T]{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return Page[T]{}, fmt.Errorf("search questions: %w", err)
	}
	defer res.Body.Close()

	var page Page[T]
	if err := apiresp.Decode(res.StatusCode, res.Body, &page); err != nil {
		return Page[T]{}, fmt.Errorf("search questions: %w", err)
	}
	return page, nil
}
