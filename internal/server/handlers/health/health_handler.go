// Package health reports liveness: database reachability and free space in
// the downloads directory.
package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/aulacast/aulacast/internal/version"
)

// Pinger is anything that can verify its backing handle still answers.
type Pinger interface {
	Ping() error
}

// LicenseCounter reports how many license slots are currently held.
type LicenseCounter interface {
	InUseCount() (int, error)
}

type HealthHandler struct {
	db           Pinger
	licenses     LicenseCounter
	downloadsDir string
}

func New(db Pinger, licenses LicenseCounter, downloadsDir string) *HealthHandler {
	return &HealthHandler{
		db:           db,
		licenses:     licenses,
		downloadsDir: downloadsDir,
	}
}

func (h *HealthHandler) Handle(ctx *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "ok",
		"version": version.Short(),
	}

	if err := h.db.Ping(); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["db"] = err.Error()
	}

	if h.licenses != nil {
		if n, err := h.licenses.InUseCount(); err == nil {
			body["licensesInUse"] = n
		}
	}

	if usage, err := disk.Usage(h.downloadsDir); err == nil {
		body["diskFreeBytes"] = usage.Free
		body["diskUsedPercent"] = usage.UsedPercent
	}

	ctx.PureJSON(status, body)
}
