package relay

import (
	"io"
	"strconv"
	"time"

	"github.com/fpang/erasebg-relay/internal/config"
	"github.com/fpang/erasebg-relay/internal/logging"
	"github.com/fpang/erasebg-relay/internal/metrics"
)

// ConfigureMetrics sends metric documents to w when metrics are enabled and
// discards them otherwise.
func ConfigureMetrics(cfg *config.Config, w io.Writer) {
	if cfg.Metrics {
		metrics.SetOutput(w)
		return
	}
	metrics.SetOutput(nil)
}

// LogStartup emits the one-line configuration summary.
func LogStartup(name, version string, cfg *config.Config, storeLocation string, initDuration time.Duration) {
	logging.NewStartupLogger(name).
		Version(version).
		Endpoint("api", cfg.APIDomain).
		Endpoint("cdn", cfg.CDNDomain).
		Store(cfg.Store, storeLocation).
		Feature("desktopNotify", cfg.DesktopNotify).
		Feature("metrics", cfg.Metrics).
		Config("namespace", cfg.Namespace).
		Config("zone", cfg.Zone).
		Config("chunkSize", strconv.Itoa(cfg.ChunkSize)).
		Config("uploadConcurrency", strconv.Itoa(cfg.UploadConcurrency)).
		Config("uploadMaxAttempts", strconv.Itoa(cfg.UploadMaxAttempts)).
		Config("uploadBackoff", cfg.UploadBackoff.String()+".."+cfg.UploadMaxBackoff.String()).
		InitDuration(initDuration).
		Log()
}
