package observability

import (
	"testing"
	"time"

	logs "github.com/treadle/loomctl/internal/logging"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("loom-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordDispatch("proc")
	RecordCompletion("done", 24*time.Millisecond)
	RecordCompletion("exception", 3*time.Millisecond)
	AddPendingTasks(1)
	AddPendingTasks(-1)

	logs.Infof("observability/metrics: registration idempotent and recording paths executed")
}
