package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 5 * time.Second

// PoolHealth is the pool section of the /health/db response.
type PoolHealth struct {
	AcquiredConns int32  `json:"acquired_conns"`
	IdleConns     int32  `json:"idle_conns"`
	TotalConns    int32  `json:"total_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireCount  int64  `json:"acquire_count"`
	AcquireWait   string `json:"acquire_wait"`
}

// PoolGauges receives pool connection counts on every health probe. The
// telemetry provider's health recorder satisfies it; a nil recorder disables
// gauge updates.
type PoolGauges interface {
	SetDBPoolActive(n int64)
	SetDBPoolIdle(n int64)
}

func snapshotPool(pool *pgxpool.Pool) PoolHealth {
	s := pool.Stat()
	return PoolHealth{
		AcquiredConns: s.AcquiredConns(),
		IdleConns:     s.IdleConns(),
		TotalConns:    s.TotalConns(),
		MaxConns:      s.MaxConns(),
		AcquireCount:  s.AcquireCount(),
		AcquireWait:   s.AcquireDuration().String(),
	}
}

// HealthHandler serves the database health probe. It pings the database with
// a short deadline and reports pool statistics either way, so operators can
// see saturation building up before the ping starts failing.
func HealthHandler(pool *pgxpool.Pool, gauges PoolGauges) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		pingErr := pool.Ping(ctx)
		health := snapshotPool(pool)

		if gauges != nil {
			gauges.SetDBPoolActive(int64(health.AcquiredConns))
			gauges.SetDBPoolIdle(int64(health.IdleConns))
		}

		if pingErr != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  pingErr.Error(),
				"pool":   health,
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   health,
		})
	}
}
