package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 5 * time.Second

// PoolStats is a snapshot of the pool's connection counters.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	WaitCount     int64  `json:"wait_count"`
	WaitDuration  string `json:"wait_duration"`
}

// Stats reads the pool's current counters. WaitCount and WaitDuration
// cover connection acquisition since the pool was opened.
func Stats(pool *pgxpool.Pool) *PoolStats {
	s := pool.Stat()
	return &PoolStats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
		WaitCount:     s.AcquireCount(),
		WaitDuration:  s.AcquireDuration().String(),
	}
}

// HealthHandler pings the database and reports pool counters. A failed
// ping answers 503 so the instance is pulled from rotation.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		status, body := healthBody(Stats(pool), pool.Ping(ctx))
		return c.JSON(status, body)
	}
}

func healthBody(stats *PoolStats, pingErr error) (int, map[string]interface{}) {
	if pingErr != nil {
		return http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  pingErr.Error(),
			"pool":   stats,
		}
	}
	return http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"pool":   stats,
	}
}
