package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics, in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	aiAttempts    = make(map[aiKey]int64)
	cacheLookups  = make(map[cacheKey]int64)
	validations   = make(map[string]int64)
	scrapeRuns    = make(map[string]int64)
	scrapeResults int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type aiKey struct {
	Provider string
	Outcome  string
}

type cacheKey struct {
	Backend string
	Result  string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordAIAttempt counts one provider attempt within a fallback sequence.
func RecordAIAttempt(provider, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	aiAttempts[aiKey{Provider: provider, Outcome: outcome}]++
}

// RecordCacheLookup counts a cache hit or miss for a backend.
func RecordCacheLookup(backend string, hit bool) {
	res := "miss"
	if hit {
		res = "hit"
	}
	mu.Lock()
	defer mu.Unlock()
	cacheLookups[cacheKey{Backend: backend, Result: res}]++
}

// RecordValidation counts a finished task validation by its status.
func RecordValidation(status string) {
	mu.Lock()
	defer mu.Unlock()
	validations[status]++
}

// RecordScrapeRun counts a scheduled scrape run and its produced results.
func RecordScrapeRun(status string, results int) {
	mu.Lock()
	defer mu.Unlock()
	scrapeRuns[status]++
	if results > 0 {
		scrapeResults += int64(results)
	}
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP pagesentry_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE pagesentry_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})
	for _, k := range reqKeys {
		fmt.Fprintf(&b, "pagesentry_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP pagesentry_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE pagesentry_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP pagesentry_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE pagesentry_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})
	for _, k := range latKeys {
		fmt.Fprintf(&b, "pagesentry_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "pagesentry_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP pagesentry_ai_attempts_total AI provider attempts by outcome\n")
	b.WriteString("# TYPE pagesentry_ai_attempts_total counter\n")

	var aiKeys []aiKey
	for k := range aiAttempts {
		aiKeys = append(aiKeys, k)
	}
	sort.Slice(aiKeys, func(i, j int) bool {
		if aiKeys[i].Provider != aiKeys[j].Provider {
			return aiKeys[i].Provider < aiKeys[j].Provider
		}
		return aiKeys[i].Outcome < aiKeys[j].Outcome
	})
	for _, k := range aiKeys {
		fmt.Fprintf(&b, "pagesentry_ai_attempts_total{provider=\"%s\",outcome=\"%s\"} %d\n",
			k.Provider, k.Outcome, aiAttempts[k])
	}

	b.WriteString("# HELP pagesentry_cache_lookups_total AI cache lookups by backend and result\n")
	b.WriteString("# TYPE pagesentry_cache_lookups_total counter\n")

	var cacheKeys []cacheKey
	for k := range cacheLookups {
		cacheKeys = append(cacheKeys, k)
	}
	sort.Slice(cacheKeys, func(i, j int) bool {
		if cacheKeys[i].Backend != cacheKeys[j].Backend {
			return cacheKeys[i].Backend < cacheKeys[j].Backend
		}
		return cacheKeys[i].Result < cacheKeys[j].Result
	})
	for _, k := range cacheKeys {
		fmt.Fprintf(&b, "pagesentry_cache_lookups_total{backend=\"%s\",result=\"%s\"} %d\n",
			k.Backend, k.Result, cacheLookups[k])
	}

	b.WriteString("# HELP pagesentry_validations_total Task validations by final status\n")
	b.WriteString("# TYPE pagesentry_validations_total counter\n")
	writeByLabel(&b, "pagesentry_validations_total", "status", validations)

	b.WriteString("# HELP pagesentry_scrape_runs_total Scheduled scrape runs by status\n")
	b.WriteString("# TYPE pagesentry_scrape_runs_total counter\n")
	writeByLabel(&b, "pagesentry_scrape_runs_total", "status", scrapeRuns)

	b.WriteString("# HELP pagesentry_scrape_results_total Records produced by scheduled runs\n")
	b.WriteString("# TYPE pagesentry_scrape_results_total counter\n")
	fmt.Fprintf(&b, "pagesentry_scrape_results_total %d\n", scrapeResults)

	return b.String()
}

func writeByLabel(b *strings.Builder, name, label string, values map[string]int64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, k, values[k])
	}
}
