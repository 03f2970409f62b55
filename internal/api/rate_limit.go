package api

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// uploadLimiter caps testcase and statement uploads per task and
// globally, over a sliding one-minute window. Uploads funnel large
// payloads into the file store, so a runaway import script gets
// throttled before it starves everything else.
type uploadLimiter struct {
	mu         sync.Mutex
	perTaskMax int
	globalMax  int
	window     time.Duration
	tasks      map[string][]int64
	global     []int64
}

func newUploadLimiterFromEnv() *uploadLimiter {
	perTask := getenvIntRL("CMS_UPLOAD_RATE_LIMIT_PER_MIN", 120)
	global := getenvIntRL("CMS_UPLOAD_GLOBAL_RATE_LIMIT_PER_MIN", 600)
	if perTask < 0 {
		perTask = 0
	}
	if global < 0 {
		global = 0
	}
	return &uploadLimiter{
		perTaskMax: perTask,
		globalMax:  global,
		window:     time.Minute,
		tasks:      map[string][]int64{},
		global:     make([]int64, 0, 256),
	}
}

func (l *uploadLimiter) allow(taskID string, now time.Time) bool {
	if l == nil || (l.perTaskMax == 0 && l.globalMax == 0) {
		return true
	}
	ts := now.UTC().Unix()
	cutoff := ts - int64(l.window.Seconds())
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trimCutoff(l.global, cutoff)
	if l.globalMax > 0 && len(l.global) >= l.globalMax {
		return false
	}

	history := trimCutoff(l.tasks[taskID], cutoff)
	if l.perTaskMax > 0 && len(history) >= l.perTaskMax {
		l.tasks[taskID] = history
		return false
	}

	history = append(history, ts)
	l.tasks[taskID] = history
	l.global = append(l.global, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}

func getenvIntRL(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
