package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// BrokerChecker reports whether the message broker connection is usable.
type BrokerChecker interface {
	Healthy() bool
}

// RegisterHealthRoutes mounts /livez and /readyz. A nil broker is left out of
// readiness, which is the case when outcome tasks run in-process.
func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client, broker BrokerChecker) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb, broker))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client, broker BrokerChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{
			"postgres": checkStatus(sqlDB.PingContext(ctx) == nil),
			"redis":    checkStatus(rdb.Ping(ctx).Err() == nil),
		}
		if broker != nil {
			checks["rabbitmq"] = checkStatus(broker.Healthy())
		}

		status := "ready"
		statusCode := fiber.StatusOK
		for _, check := range checks {
			if check != "ok" {
				status = "not_ready"
				statusCode = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}

func checkStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "down"
}
