package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/MicKaranja/cms/internal/notify"
	"github.com/MicKaranja/cms/internal/observability"
	"github.com/MicKaranja/cms/internal/registry"
	"github.com/MicKaranja/cms/internal/rpc"
)

const resourceService = "ResourceService"

// ShardResources is one ResourceService shard's last reported usage.
type ShardResources struct {
	Shard         int     `json:"shard"`
	CPUPercent    float64 `json:"cpu"`
	MemoryPercent float64 `json:"memory"`
	Reachable     bool    `json:"reachable"`
	ReportedAt    int64   `json:"reported_at"`
}

// Monitor polls every ResourceService shard on a fixed interval and
// publishes the results as gauges. A shard that stops answering is
// reported once on the notification queue, not on every tick.
type Monitor struct {
	reg           *registry.Registry
	pool          *rpc.Pool
	notifications *notify.Queue
	interval      time.Duration
	callTimeout   time.Duration

	mu       sync.Mutex
	snapshot map[int]ShardResources
	down     map[int]bool
}

func New(reg *registry.Registry, pool *rpc.Pool, notifications *notify.Queue, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		reg:           reg,
		pool:          pool,
		notifications: notifications,
		interval:      interval,
		callTimeout:   5 * time.Second,
		snapshot:      make(map[int]ShardResources),
		down:          make(map[int]bool),
	}
}

// Start blocks until ctx is cancelled. One poll runs immediately so
// the first snapshot does not wait a full interval.
func (m *Monitor) Start(ctx context.Context) {
	shards, err := m.reg.ShardCount(resourceService)
	if err != nil {
		log.Printf("resource monitor disabled: %v", err)
		return
	}
	m.pollAll(ctx, shards)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.pollAll(ctx, shards)
		}
	}
}

func (m *Monitor) pollAll(ctx context.Context, shards int) {
	for shard := 0; shard < shards; shard++ {
		m.pollShard(ctx, shard)
	}
}

type resourceReport struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
}

func (m *Monitor) pollShard(ctx context.Context, shard int) {
	coord := registry.ServiceCoordinate{Name: resourceService, Shard: shard}
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	result, err := m.pool.Call(callCtx, coord, "get_resources", nil)
	if err != nil {
		m.markDown(shard, err)
		return
	}
	var report resourceReport
	if err := json.Unmarshal(result, &report); err != nil {
		m.markDown(shard, fmt.Errorf("decode get_resources reply: %w", err))
		return
	}

	labels := map[string]string{"shard": strconv.Itoa(shard)}
	observability.Default.SetGauge("resource_shard_up", labels, 1)
	observability.Default.SetGauge("resource_cpu_percent", labels, report.CPU)
	observability.Default.SetGauge("resource_memory_percent", labels, report.Memory)

	m.mu.Lock()
	recovered := m.down[shard]
	m.down[shard] = false
	m.snapshot[shard] = ShardResources{
		Shard:         shard,
		CPUPercent:    report.CPU,
		MemoryPercent: report.Memory,
		Reachable:     true,
		ReportedAt:    time.Now().Unix(),
	}
	m.mu.Unlock()

	if recovered {
		log.Printf("resource monitor: %s reachable again", coord)
	}
}

func (m *Monitor) markDown(shard int, cause error) {
	labels := map[string]string{"shard": strconv.Itoa(shard)}
	observability.Default.SetGauge("resource_shard_up", labels, 0)

	m.mu.Lock()
	alreadyDown := m.down[shard]
	m.down[shard] = true
	snap := m.snapshot[shard]
	snap.Shard = shard
	snap.Reachable = false
	m.snapshot[shard] = snap
	m.mu.Unlock()

	log.Printf("resource monitor: %s/%d unreachable: %v", resourceService, shard, cause)
	if !alreadyDown {
		m.notifications.AddNow(
			"Resource monitor",
			fmt.Sprintf("%s/%d stopped answering get_resources: %v", resourceService, shard, cause),
		)
	}
}

// Snapshot returns the last known usage per shard, ordered by shard.
func (m *Monitor) Snapshot() []ShardResources {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ShardResources, 0, len(m.snapshot))
	for _, snap := range m.snapshot {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Shard < out[j].Shard })
	return out
}
