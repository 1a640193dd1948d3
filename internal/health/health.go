package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status — состояние компонента сервиса продаж.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultPingTimeout = 2 * time.Second

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент (хранилище, кэш, брокер).
type Checker interface {
	Check() Check
}

// Handler собирает проверки компонентов и отдаёт /healthz и /readyz.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterChecker добавляет или заменяет проверку с именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// runChecks выполняет проверки параллельно.
func (h *Handler) runChecks() map[string]Check {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make([]Checker, 0, len(h.checkers))
	for name, checker := range h.checkers {
		names = append(names, name)
		checkers = append(checkers, checker)
	}
	h.mu.RUnlock()

	results := make([]Check, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			results[i] = checker.Check()
		}(i, checker)
	}
	wg.Wait()

	checks := make(map[string]Check, len(results))
	for i, name := range names {
		checks[name] = results[i]
	}
	return checks
}

func overallStatus(checks map[string]Check) Status {
	status := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// ServeHTTP отдаёт JSON с результатами всех проверок; 503, если хоть одна unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	checks := h.runChecks()
	response := Response{
		Status:        overallStatus(checks),
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler всегда отвечает 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503 и перечисляет unhealthy компоненты.
// Degraded (например, недоступный кэш) не снимает готовность.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	var failed []string
	for name, check := range h.runChecks() {
		if check.Status == StatusUnhealthy {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		for _, name := range failed {
			_, _ = w.Write([]byte(": " + name))
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// SimpleChecker оборачивает функцию без контекста.
type SimpleChecker struct {
	name    string
	checkFn func() error
}

func NewSimpleChecker(name string, checkFn func() error) *SimpleChecker {
	return &SimpleChecker{
		name:    name,
		checkFn: checkFn,
	}
}

func (c *SimpleChecker) Check() Check {
	start := time.Now()
	err := c.checkFn()
	return buildCheck(c.name, err, StatusUnhealthy, time.Since(start))
}

// PingChecker вызывает ping с таймаутом (PostgreSQL, Redis).
// Для необязательных компонентов ошибка даёт degraded вместо unhealthy.
type PingChecker struct {
	name     string
	timeout  time.Duration
	optional bool
	ping     func(ctx context.Context) error
}

// NewPingChecker создаёт проверку обязательного компонента.
func NewPingChecker(name string, timeout time.Duration, ping func(ctx context.Context) error) *PingChecker {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	return &PingChecker{name: name, timeout: timeout, ping: ping}
}

// NewOptionalPingChecker создаёт проверку компонента, без которого сервис работает.
func NewOptionalPingChecker(name string, timeout time.Duration, ping func(ctx context.Context) error) *PingChecker {
	checker := NewPingChecker(name, timeout, ping)
	checker.optional = true
	return checker
}

func (c *PingChecker) Check() Check {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	failure := StatusUnhealthy
	if c.optional {
		failure = StatusDegraded
	}

	start := time.Now()
	err := c.ping(ctx)
	return buildCheck(c.name, err, failure, time.Since(start))
}

func buildCheck(name string, err error, failure Status, duration time.Duration) Check {
	if err != nil {
		return Check{
			Name:       name,
			Status:     failure,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}
	return Check{
		Name:       name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
	}
}
