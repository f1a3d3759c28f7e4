package metrics

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectStoreMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordUpload(0.1, true, 1024)
	m.RecordUpload(0.2, false, 512)
	m.RecordDownload(0.05, true, 100)
	m.RecordBatchDelete(0.3, true, 7, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(OpUpload, StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(OpUpload, StatusFailure)))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.BytesTotal.WithLabelValues(DirectionWrite)), "failed uploads move no bytes")
	assert.Equal(t, 100.0, testutil.ToFloat64(m.BytesTotal.WithLabelValues(DirectionRead)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.DeletedKeysTotal.WithLabelValues("deleted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeletedKeysTotal.WithLabelValues("failed")))

	assert.Equal(t, 3, testutil.CollectAndCount(m.LatencyHistogram))
}

func TestSweepMetrics_RecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSweepMetricsWithRegistry(reg)

	m.RecordRun(JobRemoteGC, OutcomeOK, 2*time.Second, Counts{Checked: 10, Removed: 8, Deleted: 8, Failed: 2})
	m.RecordRun(JobRemoteGC, OutcomeSkipped, 0, Counts{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(JobRemoteGC, OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(JobRemoteGC, OutcomeSkipped)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.KeysTotal.WithLabelValues(JobRemoteGC, "checked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.KeysTotal.WithLabelValues(JobRemoteGC, "failed")))
	assert.Equal(t, 4, testutil.CollectAndCount(m.KeysTotal), "zero dispositions are not emitted")

	m.SetBacklog("checklist", 42)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.Backlog.WithLabelValues("checklist")))
}

func TestSeparateRegistries(t *testing.T) {
	// Two sets of metrics on different registries must not collide.
	NewSweepMetricsWithRegistry(prometheus.NewRegistry())
	NewSweepMetricsWithRegistry(prometheus.NewRegistry())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSweepMetricsWithRegistry(reg)
	m.SetBacklog("upload_checklist", 3)

	s := NewServerWithRegistry("127.0.0.1:0", reg)
	require.NoError(t, s.Start())
	defer s.Close()

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `tierstore_checklist_backlog{list="upload_checklist"} 3`))
}

func TestServer_CloseBeforeStart(t *testing.T) {
	s := NewServer(":0")
	assert.Equal(t, ":0", s.Addr())
	assert.NoError(t, s.Close())
}
