package preflight

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// serviceProbeTimeout bounds each individual service probe so a hung
// sidecar cannot stall startup.
const serviceProbeTimeout = 2 * time.Second

// CheckConfig validates the effective configuration.
func (c *Checker) CheckConfig(cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "config",
		Required: true,
	}

	if cfg == nil {
		result.Status = StatusFail
		result.Message = "no configuration loaded"
		return result
	}

	if err := cfg.Validate(); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckVectorStore verifies the Qdrant gRPC port accepts connections.
// A plain TCP dial is enough here: the real client negotiates gRPC on
// first use and reports richer errors then.
func (c *Checker) CheckVectorStore(ctx context.Context, qc config.QdrantConfig) CheckResult {
	result := CheckResult{
		Name:     "vector_db",
		Required: true,
	}

	addr := net.JoinHostPort(qc.Host, fmt.Sprintf("%d", qc.Port))
	dialer := net.Dialer{Timeout: serviceProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("qdrant unreachable at %s", addr)
		result.Details = err.Error()
		return result
	}
	_ = conn.Close()

	result.Status = StatusPass
	result.Message = fmt.Sprintf("qdrant reachable at %s", addr)
	return result
}

// CheckHTTPService probes a sidecar's /health endpoint. Required
// services fail the check when unreachable; optional ones only warn.
func (c *Checker) CheckHTTPService(ctx context.Context, name, baseURL string, required bool) CheckResult {
	result := CheckResult{
		Name:     name,
		Required: required,
	}
	failStatus := StatusFail
	if !required {
		failStatus = StatusWarn
	}

	url := strings.TrimRight(baseURL, "/") + "/health"
	ctx, cancel := context.WithTimeout(ctx, serviceProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = failStatus
		result.Message = fmt.Sprintf("invalid base URL %q", baseURL)
		result.Details = err.Error()
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = failStatus
		result.Message = fmt.Sprintf("unreachable at %s", baseURL)
		result.Details = err.Error()
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Status = failStatus
		result.Message = fmt.Sprintf("unhealthy: HTTP %d from %s", resp.StatusCode, url)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("healthy at %s", baseURL)
	return result
}

// CheckRedis pings the registration store. Redis is optional:
// registration falls back to an in-memory store when it is absent.
func (c *Checker) CheckRedis(ctx context.Context, rc config.RedisConfig) CheckResult {
	result := CheckResult{
		Name:     "redis",
		Required: false,
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        rc.Addr,
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: serviceProbeTimeout,
	})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithTimeout(ctx, serviceProbeTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("redis unreachable at %s (registration falls back to memory)", rc.Addr)
		result.Details = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("redis reachable at %s", rc.Addr)
	return result
}
