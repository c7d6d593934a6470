// Package observability records per-route request counters, tracks which
// question-bank filters searches use, and writes one JSON access line per
// request.
package observability

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"cbtadmin/internal/auth"
	internaldb "cbtadmin/internal/db"
	"cbtadmin/internal/filter"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const searchPath = "/api/v1/questions"

// latencyBuckets are upper bounds in milliseconds.
var latencyBuckets = []float64{5, 25, 100, 250, 1000}

type routeKey struct {
	Method string
	Path   string
	Status int
}

type routeStat struct {
	Count     int64
	LatencyMS float64
	Buckets   []int64 // cumulative counts per latencyBuckets entry
}

type searchStat struct {
	Total    int64
	Filtered int64
	ByFilter map[string]int64
}

type Collector struct {
	db  *sql.DB
	now func() time.Time

	mu        sync.Mutex
	routes    map[routeKey]*routeStat
	searches  searchStat
	startedAt time.Time
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:        db,
		now:       time.Now,
		routes:    make(map[routeKey]*routeStat),
		searches:  searchStat{ByFilter: make(map[string]int64)},
		startedAt: time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := c.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMS := float64(c.now().Sub(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)
		c.observe(routeKey{Method: r.Method, Path: path, Status: rec.status}, latencyMS)

		entry := map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       path,
			"status":     rec.status,
			"latency_ms": latencyMS,
			"remote_ip":  strings.TrimSpace(r.RemoteAddr),
		}
		if u, ok := auth.CurrentUser(r.Context()); ok {
			entry["user_id"] = u.ID
			entry["role"] = u.Role
		}
		if id := extractQuestionID(r.URL.Path); id > 0 {
			entry["question_id"] = id
		}
		if r.Method == http.MethodGet && r.URL.Path == searchPath && rec.status < 400 {
			used := searchFilters(r.URL.RawQuery)
			c.observeSearch(used)
			if len(used) > 0 {
				entry["filters"] = used
			}
		}
		b, _ := json.Marshal(entry)
		log.Printf("%s", string(b))
	})
}

func (c *Collector) observe(k routeKey, latencyMS float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.routes[k]
	if !ok {
		s = &routeStat{Buckets: make([]int64, len(latencyBuckets))}
		c.routes[k] = s
	}
	s.Count++
	s.LatencyMS += latencyMS
	for i, le := range latencyBuckets {
		if latencyMS <= le {
			s.Buckets[i]++
		}
	}
}

func (c *Collector) observeSearch(used []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches.Total++
	if len(used) > 0 {
		c.searches.Filtered++
	}
	for _, name := range used {
		c.searches.ByFilter[name]++
	}
}

// searchFilters names the filters a search request narrows by, in query
// schema order. Sort and paging keys do not count.
func searchFilters(rawQuery string) []string {
	qv := filter.ParseQuery(rawQuery)
	var used []string
	if qv.Search != nil && strings.TrimSpace(*qv.Search) != "" {
		used = append(used, "search")
	}
	for _, name := range filter.Facets {
		if len(qv.Facets[name]) > 0 {
			used = append(used, name)
		}
	}
	if qv.Difficulty != nil && *qv.Difficulty != filter.DifficultyAll {
		used = append(used, "difficulty")
	}
	return used
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	keys := make([]routeKey, 0, len(c.routes))
	routes := make(map[routeKey]routeStat, len(c.routes))
	for k, v := range c.routes {
		keys = append(keys, k)
		cp := *v
		cp.Buckets = slices.Clone(v.Buckets)
		routes[k] = cp
	}
	searches := searchStat{Total: c.searches.Total, Filtered: c.searches.Filtered, ByFilter: make(map[string]int64, len(c.searches.ByFilter))}
	for k, v := range c.searches.ByFilter {
		searches.ByFilter[k] = v
	}
	startedAt := c.startedAt
	c.mu.Unlock()

	slices.SortFunc(keys, func(a, b routeKey) int {
		if a.Method != b.Method {
			return strings.Compare(a.Method, b.Method)
		}
		if a.Path != b.Path {
			return strings.Compare(a.Path, b.Path)
		}
		return a.Status - b.Status
	})

	var sb strings.Builder
	sb.WriteString("# TYPE cbtadmin_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "cbtadmin_uptime_seconds %.0f\n", c.now().Sub(startedAt).Seconds())

	sb.WriteString("# TYPE cbtadmin_http_request_duration_ms histogram\n")
	for _, k := range keys {
		s := routes[k]
		labels := fmt.Sprintf("method=%q,path=%q,status=\"%d\"", k.Method, k.Path, k.Status)
		for i, le := range latencyBuckets {
			fmt.Fprintf(&sb, "cbtadmin_http_request_duration_ms_bucket{%s,le=\"%g\"} %d\n", labels, le, s.Buckets[i])
		}
		fmt.Fprintf(&sb, "cbtadmin_http_request_duration_ms_bucket{%s,le=\"+Inf\"} %d\n", labels, s.Count)
		fmt.Fprintf(&sb, "cbtadmin_http_request_duration_ms_sum{%s} %.3f\n", labels, s.LatencyMS)
		fmt.Fprintf(&sb, "cbtadmin_http_request_duration_ms_count{%s} %d\n", labels, s.Count)
	}

	sb.WriteString("# TYPE cbtadmin_question_searches_total counter\n")
	fmt.Fprintf(&sb, "cbtadmin_question_searches_total %d\n", searches.Total)
	fmt.Fprintf(&sb, "cbtadmin_question_searches_filtered_total %d\n", searches.Filtered)
	sb.WriteString("# TYPE cbtadmin_question_search_filter_total counter\n")
	for _, name := range append([]string{"search"}, append(slices.Clone(filter.Facets), "difficulty")...) {
		fmt.Fprintf(&sb, "cbtadmin_question_search_filter_total{filter=%q} %d\n", name, searches.ByFilter[name])
	}

	if c.db != nil {
		ps := internaldb.Stats(c.db)
		sb.WriteString("# TYPE cbtadmin_db_connections gauge\n")
		fmt.Fprintf(&sb, "cbtadmin_db_connections{state=\"open\"} %d\n", ps.OpenConnections)
		fmt.Fprintf(&sb, "cbtadmin_db_connections{state=\"in_use\"} %d\n", ps.InUse)
		fmt.Fprintf(&sb, "cbtadmin_db_connections{state=\"idle\"} %d\n", ps.Idle)
		sb.WriteString("# TYPE cbtadmin_db_wait_count counter\n")
		fmt.Fprintf(&sb, "cbtadmin_db_wait_count %d\n", ps.WaitCount)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// normalizedPath folds numeric ids and import batch uuids into placeholders
// so metrics stay bounded per route.
func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
			continue
		}
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = "{uuid}"
		}
	}
	return strings.Join(parts, "/")
}

func extractQuestionID(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] != "questions" {
			continue
		}
		if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
			return id
		}
	}
	return 0
}
