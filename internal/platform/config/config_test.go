package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "production", cfg.Index.Deployment)
	assert.Equal(t, "mean", cfg.Index.Reducer)
	assert.Equal(t, 10*time.Second, cfg.Index.ProbeTimeout)
	assert.Equal(t, 16, cfg.Index.MaxInFlight)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "trustindex:", cfg.Redis.Namespace)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"TRUST_INDEX_ADDR":    ":9090",
		"DEPLOYMENT":          "test",
		"INDEX_REDUCER":       "minmax",
		"PROBE_TIMEOUT":       "2s",
		"PROBE_MAX_IN_FLIGHT": "4",
		"STORE_BACKEND":       "redis",
		"REDIS_URL":           "redis://localhost:6379/0",
		"KAFKA_BROKERS":       "a:9092, b:9092,",
		"LOG_LEVEL":           "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "test", cfg.Index.Deployment)
	assert.Equal(t, "minmax", cfg.Index.Reducer)
	assert.Equal(t, 2*time.Second, cfg.Index.ProbeTimeout)
	assert.Equal(t, 4, cfg.Index.MaxInFlight)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown deployment":      {"DEPLOYMENT": "staging"},
		"unknown reducer":         {"INDEX_REDUCER": "median"},
		"unparsable duration":     {"PROBE_TIMEOUT": "soon"},
		"unparsable int":          {"PROBE_MAX_IN_FLIGHT": "many"},
		"zero in flight":          {"PROBE_MAX_IN_FLIGHT": "0"},
		"bad rpc url":             {"NEAR_RPC_URL": "not a url"},
		"redis without url":       {"STORE_BACKEND": "redis"},
		"postgres without url":    {"STORE_BACKEND": "postgres"},
		"unknown store":           {"STORE_BACKEND": "etcd"},
		"unknown log format":      {"LOG_FORMAT": "xml"},
		"zero failure threshold":  {"BREAKER_FAILURE_THRESHOLD": "0"},
		"negative probe timeout":  {"PROBE_TIMEOUT": "-1s"},
		"excessive rpc retry cap": {"NEAR_RPC_RETRIES": "50"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(envMap(env))
			assert.Error(t, err)
		})
	}
}
