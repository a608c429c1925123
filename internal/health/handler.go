package health

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/see-server/internal/control"
	"github.com/eleven-am/see-server/internal/gateway"
	"github.com/eleven-am/see-server/internal/realtime"
	"github.com/eleven-am/see-server/internal/roles"
	"github.com/eleven-am/see-server/internal/rpc"
	"github.com/eleven-am/see-server/internal/sidewalk"
	"github.com/eleven-am/see-server/internal/vision"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines         int    `json:"goroutines"`
	MemoryAllocMB      uint64 `json:"memory_alloc_mb"`
	MemoryTotalAllocMB uint64 `json:"memory_total_alloc_mb"`
	MemorySysMB        uint64 `json:"memory_sys_mb"`
	NumGC              uint32 `json:"num_gc"`
}

type StreamStats struct {
	Producer  bool `json:"producer"`
	Viewers   int  `json:"viewers"`
	PeerLinks int  `json:"peer_links"`
	Sockets   int  `json:"sockets"`
}

type RequestStats struct {
	TotalRequests     uint64 `json:"total_requests"`
	ActiveConnections int64  `json:"active_connections"`
}

type Stats struct {
	Stream   StreamStats  `json:"stream"`
	Requests RequestStats `json:"requests"`
	Runtime  RuntimeStats `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

type RoleDetail struct {
	Role   string `json:"role"`
	ConnID string `json:"conn_id"`
}

type RolesResponse struct {
	Holders []RoleDetail `json:"holders"`
	Viewers []string     `json:"viewers"`
}

type CapturerStats struct {
	Frames  uint64 `json:"frames"`
	Decoded uint64 `json:"decoded"`
	Dropped uint64 `json:"dropped"`
}

type PipelineResponse struct {
	Capturer   *CapturerStats          `json:"capturer,omitempty"`
	Sampler    *vision.SamplerStats    `json:"sampler,omitempty"`
	Recognizer *vision.RecognizerStats `json:"recognizer,omitempty"`
	Sidewalk   *sidewalk.Status        `json:"sidewalk,omitempty"`
	RPC        *rpc.Stats              `json:"rpc,omitempty"`
	Control    *control.Stats          `json:"control,omitempty"`
}

// Sources are the live components reported on. Any of them may be nil.
type Sources struct {
	Registry   *roles.Registry
	Manager    *realtime.Manager
	Sockets    *gateway.Server
	Relay      *rpc.Relay
	Control    *control.Service
	Capturer   *vision.FrameCapturer
	Sampler    *vision.Sampler
	Recognizer *vision.Recognizer
	Inference  *vision.Client
	Sidewalk   *sidewalk.Bridge
}

type Handler struct {
	db        *gorm.DB
	redis     *redis.Client
	src       Sources
	version   string
	startTime time.Time

	totalRequests     uint64
	activeConnections int64
}

func NewHandler(db *gorm.DB, redis *redis.Client, src Sources, version string) *Handler {
	return &Handler{
		db:        db,
		redis:     redis,
		src:       src,
		version:   version,
		startTime: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
	e.GET("/health/roles", h.Roles)
	e.GET("/health/links", h.Links)
	e.GET("/health/pipeline", h.Pipeline)
}

func (h *Handler) IncrementRequests() {
	atomic.AddUint64(&h.totalRequests, 1)
}

func (h *Handler) IncrementConnections() {
	atomic.AddInt64(&h.activeConnections, 1)
}

func (h *Handler) DecrementConnections() {
	atomic.AddInt64(&h.activeConnections, -1)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	components := h.runChecks(ctx)
	overallStatus := h.computeOverallStatus(components)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := HealthResponse{
		Status:        overallStatus,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats: Stats{
			Stream: h.streamStats(),
			Requests: RequestStats{
				TotalRequests:     atomic.LoadUint64(&h.totalRequests),
				ActiveConnections: atomic.LoadInt64(&h.activeConnections),
			},
			Runtime: RuntimeStats{
				Goroutines:         runtime.NumGoroutine(),
				MemoryAllocMB:      memStats.Alloc / 1024 / 1024,
				MemoryTotalAllocMB: memStats.TotalAlloc / 1024 / 1024,
				MemorySysMB:        memStats.Sys / 1024 / 1024,
				NumGC:              memStats.NumGC,
			},
		},
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, resp)
}

func (h *Handler) runChecks(ctx context.Context) map[string]ComponentStatus {
	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := []struct {
		name  string
		check func(context.Context) ComponentStatus
	}{
		{"database", h.checkDatabase},
		{"redis", h.checkRedis},
		{"inference", h.checkInference},
		{"sidewalk", h.checkSidewalk},
	}

	wg.Add(len(checks))
	for _, check := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(check.name, check.check)
	}
	wg.Wait()

	return components
}

func (h *Handler) streamStats() StreamStats {
	var stats StreamStats
	if r := h.src.Registry; r != nil {
		_, stats.Producer = r.HolderOf(roles.Producer)
		stats.Viewers = r.ViewerCount()
	}
	if m := h.src.Manager; m != nil {
		stats.PeerLinks = m.OutboundCount()
		if _, ok := m.Inbound(); ok {
			stats.PeerLinks++
		}
	}
	if s := h.src.Sockets; s != nil {
		stats.Sockets = s.ConnectionCount()
	}
	return stats
}

func (h *Handler) Roles(c echo.Context) error {
	resp := RolesResponse{
		Holders: []RoleDetail{},
		Viewers: []string{},
	}
	if r := h.src.Registry; r != nil {
		for role, id := range r.Holders() {
			resp.Holders = append(resp.Holders, RoleDetail{Role: role.String(), ConnID: id})
		}
		sort.Slice(resp.Holders, func(i, j int) bool { return resp.Holders[i].Role < resp.Holders[j].Role })

		for _, v := range r.Viewers() {
			resp.Viewers = append(resp.Viewers, v.ID())
		}
		sort.Strings(resp.Viewers)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Links(c echo.Context) error {
	if h.src.Manager == nil {
		return c.JSON(http.StatusOK, realtime.Stats{Outbound: []realtime.LinkInfo{}, Tracks: []string{}})
	}
	return c.JSON(http.StatusOK, h.src.Manager.Stats())
}

func (h *Handler) Pipeline(c echo.Context) error {
	var resp PipelineResponse
	if cp := h.src.Capturer; cp != nil {
		frames, decoded, dropped := cp.Stats()
		resp.Capturer = &CapturerStats{Frames: frames, Decoded: decoded, Dropped: dropped}
	}
	if s := h.src.Sampler; s != nil {
		stats := s.Stats()
		resp.Sampler = &stats
	}
	if r := h.src.Recognizer; r != nil {
		stats := r.Stats()
		resp.Recognizer = &stats
	}
	if b := h.src.Sidewalk; b != nil {
		status := b.Status()
		resp.Sidewalk = &status
	}
	if r := h.src.Relay; r != nil {
		stats := r.Stats()
		resp.RPC = &stats
	}
	if s := h.src.Control; s != nil {
		stats := s.Stats()
		resp.Control = &stats
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) checkDatabase(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.db == nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "database not configured",
		}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "failed to get underlying db",
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	stats := sqlDB.Stats()
	status := h.evaluateDBStats(stats)

	return ComponentStatus{
		Status:    status,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) evaluateDBStats(stats sql.DBStats) Status {
	if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.redis == nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "redis not configured",
		}
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) checkInference(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.src.Inference == nil {
		return ComponentStatus{
			Status:    StatusDegraded,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "inference not configured",
		}
	}

	if !h.src.Inference.IsAvailable(ctx) {
		return ComponentStatus{
			Status:    StatusDegraded,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "inference unreachable",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

// A disabled sidewalk detector is healthy; one that has exited is not.
func (h *Handler) checkSidewalk(_ context.Context) ComponentStatus {
	start := time.Now()
	b := h.src.Sidewalk
	if b == nil || !b.Enabled() {
		return ComponentStatus{Status: StatusHealthy}
	}

	status := b.Status()
	if !status.Running {
		msg := "subprocess not running"
		if status.ExitError != "" {
			msg = status.ExitError
		}
		return ComponentStatus{
			Status:    StatusDegraded,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     msg,
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) computeOverallStatus(components map[string]ComponentStatus) Status {
	criticalComponents := []string{"database", "redis"}

	for _, name := range criticalComponents {
		if status, ok := components[name]; ok && status.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, status := range components {
		if status.Status == StatusUnhealthy {
			hasUnhealthy = true
		}
		if status.Status == StatusDegraded {
			hasDegraded = true
		}
	}

	if hasUnhealthy || hasDegraded {
		return StatusDegraded
	}

	return StatusHealthy
}
