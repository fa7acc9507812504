package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ModelChecker probes the inference backend. The model being down is
// reported but does not make the service unhealthy: evaluations degrade
// to the rule engine.
func ModelChecker(probe func(ctx context.Context) (bool, string)) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		ok, detail := probe(ctx)
		return Status{Name: "model", Healthy: true, Detail: modelDetail(ok, detail)}
	}
}

func modelDetail(ok bool, detail string) string {
	if ok {
		return "available"
	}
	if detail == "" {
		return "unavailable, evaluations fall back to rules"
	}
	return fmt.Sprintf("unavailable (%s), evaluations fall back to rules", detail)
}

// MonitorChecker reports how many subscriptions the monitor is running.
// An idle monitor is healthy.
func MonitorChecker(count func() int) Checker {
	return func(ctx context.Context) Status {
		n := count()
		return Status{Name: "monitor", Healthy: true, Detail: fmt.Sprintf("%d subscription(s)", n)}
	}
}

// DatabaseChecker pings the audit database.
func DatabaseChecker(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}
