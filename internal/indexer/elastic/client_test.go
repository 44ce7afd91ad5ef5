package elastic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loghold/internal/config"
	"loghold/internal/indexer"
	"loghold/internal/logger"
	pkgerrors "loghold/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.ElasticsearchConfig{
		BaseURL:        srv.URL,
		RequestTimeout: 2 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2.0,
		},
	}
	return NewClient(cfg, logger.NopLogger()), srv
}

func TestCreateIndex(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
	}))

	assert.True(t, c.Create(context.Background(), "logdata_4"))
	assert.Equal(t, "/logdata_4", gotPath)
}

func TestCreateIndexRejected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	assert.False(t, c.Create(context.Background(), "logdata_4"))
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	assert.True(t, c.Create(context.Background(), "logdata_0"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	assert.False(t, c.Create(context.Background(), "logdata_0"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitForRecovery(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_cluster/health/logdata_1", r.URL.Path)
		assert.Equal(t, "yellow", r.URL.Query().Get("wait_for_status"))
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "green"})
	}))

	assert.Equal(t, indexer.HealthGreen, c.WaitForRecovery(context.Background(), "logdata_1"))
}

func TestWaitForRecoveryDegradesToRed(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	assert.Equal(t, indexer.HealthRed, c.WaitForRecovery(context.Background(), "logdata_1"))
}

func TestAliasExists(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_alias/logdata_deflector" {
			_, _ = w.Write([]byte(`{"logdata_3":{"aliases":{"logdata_deflector":{}}}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	exists, err := c.AliasExists(context.Background(), "logdata_deflector")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.AliasExists(context.Background(), "missing_deflector")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAliasTarget(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"logdata_7":{"aliases":{"logdata_deflector":{}}}}`))
	}))

	target, err := c.AliasTarget(context.Background(), "logdata_deflector")
	require.NoError(t, err)
	assert.Equal(t, "logdata_7", target)
}

func TestAliasTargetMissing(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.AliasTarget(context.Background(), "logdata_deflector")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestAliasTargetMultipleIndices(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"logdata_6":{},"logdata_7":{}}`))
	}))

	_, err := c.AliasTarget(context.Background(), "logdata_deflector")
	assert.Error(t, err)
}

func TestCycleAliasFromIsOneAtomicRequest(t *testing.T) {
	var body struct {
		Actions []map[string]map[string]string `json:"actions"`
	}
	var calls atomic.Int32

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/_aliases", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.CycleAliasFrom(context.Background(), "logdata_deflector", "logdata_4", "logdata_3"))

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, body.Actions, 2)
	assert.Equal(t, "logdata_3", body.Actions[0]["remove"]["index"])
	assert.Equal(t, "logdata_4", body.Actions[1]["add"]["index"])
	assert.Equal(t, "logdata_deflector", body.Actions[1]["add"]["alias"])
}

func TestListAll(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_stats/docs,store", r.URL.Path)
		_, _ = w.Write([]byte(`{"indices":{
			"logdata_0":{"primaries":{"docs":{"count":42},"store":{"size_in_bytes":1024}}},
			"logdata_1":{"primaries":{"docs":{"count":0},"store":{"size_in_bytes":0}}}
		}}`))
	}))

	indices, err := c.ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]indexer.IndexStats{
		"logdata_0": {Documents: 42, StoreSizeBytes: 1024},
		"logdata_1": {},
	}, indices)
}

func TestSetReadOnly(t *testing.T) {
	var body map[string]map[string]map[string]bool
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logdata_2/_settings", r.URL.Path)
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.SetReadOnly(context.Background(), "logdata_2"))
	assert.True(t, body["index"]["blocks"]["write"])
}

func TestIndexDocument(t *testing.T) {
	var body map[string]interface{}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logdata_deflector/_doc/abc123", r.URL.Path)
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
	}))

	err := c.IndexDocument(context.Background(), "logdata_deflector", "abc123", map[string]interface{}{
		"message": "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", body["message"])
}

func TestCalculateRange(t *testing.T) {
	begin := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 2, 18, 30, 0, 0, time.UTC)

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logdata_5/_search", r.URL.Path)
		resp := map[string]interface{}{
			"aggregations": map[string]interface{}{
				"ts_min": map[string]interface{}{"value": float64(begin.UnixMilli())},
				"ts_max": map[string]interface{}{"value": float64(end.UnixMilli())},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))

	rng, err := c.CalculateRange(context.Background(), "logdata_5")
	require.NoError(t, err)
	assert.Equal(t, "logdata_5", rng.IndexName)
	assert.Equal(t, begin, rng.Begin)
	assert.Equal(t, end, rng.End)
	assert.False(t, rng.CalculatedAt.IsZero())
}

func TestCalculateRangeEmptyIndex(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"aggregations":{"ts_min":{"value":null},"ts_max":{"value":null}}}`))
	}))

	rng, err := c.CalculateRange(context.Background(), "logdata_9")
	require.NoError(t, err)
	assert.Equal(t, rng.Begin, rng.End)
	assert.False(t, rng.Begin.IsZero())
}
