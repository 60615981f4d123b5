package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"jobrunner/internal/model"
)

// Simple Prometheus-style metrics for HTTP requests and job
// lifecycle activity. Intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	jobsEnqueuedTotal int64
	transitionsTotal  = make(map[transitionKey]int64)
	executionsTotal   = make(map[string]int64)

	retentionJobsDeleted    int64
	retentionBatchesDeleted int64
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

type transitionKey struct {
	From string
	To   string
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

// RecordEnqueued counts admitted job submissions.
func RecordEnqueued(n int) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	jobsEnqueuedTotal += int64(n)
}

// RecordTransition counts job status transitions applied by the
// lifecycle engine.
func RecordTransition(from, to model.JobStatus) {
	mu.Lock()
	defer mu.Unlock()
	transitionsTotal[transitionKey{From: string(from), To: string(to)}]++
}

// RecordExecution counts executor outcomes by terminal status.
func RecordExecution(status model.JobStatus) {
	mu.Lock()
	defer mu.Unlock()
	executionsTotal[string(status)]++
}

// RecordRetention increments the counters of rows deleted by TTL
// cleanup.
func RecordRetention(jobs, batches int64) {
	mu.Lock()
	defer mu.Unlock()
	if jobs > 0 {
		retentionJobsDeleted += jobs
	}
	if batches > 0 {
		retentionBatchesDeleted += batches
	}
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP jobrunner_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE jobrunner_http_requests_total counter\n")

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
		fmt.Fprintf(&b, "jobrunner_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP jobrunner_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE jobrunner_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP jobrunner_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE jobrunner_http_request_duration_ms_count counter\n")

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
		fmt.Fprintf(&b, "jobrunner_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "jobrunner_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP jobrunner_jobs_enqueued_total Total jobs admitted\n")
	b.WriteString("# TYPE jobrunner_jobs_enqueued_total counter\n")
	fmt.Fprintf(&b, "jobrunner_jobs_enqueued_total %d\n", jobsEnqueuedTotal)

	b.WriteString("# HELP jobrunner_job_transitions_total Job status transitions applied\n")
	b.WriteString("# TYPE jobrunner_job_transitions_total counter\n")

	var trKeys []transitionKey
	for k := range transitionsTotal {
		trKeys = append(trKeys, k)
	}
	sort.Slice(trKeys, func(i, j int) bool {
		if trKeys[i].From != trKeys[j].From {
			return trKeys[i].From < trKeys[j].From
		}
		return trKeys[i].To < trKeys[j].To
	})
	for _, k := range trKeys {
		fmt.Fprintf(&b, "jobrunner_job_transitions_total{from=\"%s\",to=\"%s\"} %d\n",
			k.From, k.To, transitionsTotal[k])
	}

	b.WriteString("# HELP jobrunner_job_executions_total Executor outcomes by terminal status\n")
	b.WriteString("# TYPE jobrunner_job_executions_total counter\n")

	var execKeys []string
	for k := range executionsTotal {
		execKeys = append(execKeys, k)
	}
	sort.Strings(execKeys)
	for _, k := range execKeys {
		fmt.Fprintf(&b, "jobrunner_job_executions_total{status=\"%s\"} %d\n", k, executionsTotal[k])
	}

	b.WriteString("# HELP jobrunner_retention_jobs_deleted_total Total jobs deleted by TTL\n")
	b.WriteString("# TYPE jobrunner_retention_jobs_deleted_total counter\n")
	fmt.Fprintf(&b, "jobrunner_retention_jobs_deleted_total %d\n", retentionJobsDeleted)

	b.WriteString("# HELP jobrunner_retention_batches_deleted_total Total batches deleted by TTL\n")
	b.WriteString("# TYPE jobrunner_retention_batches_deleted_total counter\n")
	fmt.Fprintf(&b, "jobrunner_retention_batches_deleted_total %d\n", retentionBatchesDeleted)

	return b.String()
}
