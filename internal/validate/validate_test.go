package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardConfig_ValidDirectHost(t *testing.T) {
	doc := map[string]any{
		"backend": "rediqueue",
		"alias":   "default",
		"hosts": []any{
			map[string]any{"addr": "127.0.0.1:6379"},
		},
	}
	assert.NoError(t, ShardConfig(doc))
}

func TestShardConfig_ValidSentinelHost(t *testing.T) {
	doc := map[string]any{
		"backend": "redispubsub",
		"hosts": []any{
			map[string]any{
				"master_name":    "mymaster",
				"sentinel_addrs": []any{"10.0.0.1:26379", "10.0.0.2:26379"},
			},
		},
	}
	assert.NoError(t, ShardConfig(doc))
}

func TestShardConfig_MissingBackend(t *testing.T) {
	doc := map[string]any{
		"hosts": []any{map[string]any{"addr": "127.0.0.1:6379"}},
	}
	err := ShardConfig(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shard config")
}

func TestShardConfig_UnknownBackend(t *testing.T) {
	doc := map[string]any{
		"backend": "not-a-backend",
		"hosts":   []any{map[string]any{"addr": "127.0.0.1:6379"}},
	}
	assert.Error(t, ShardConfig(doc))
}

func TestShardConfig_EmptyHosts(t *testing.T) {
	doc := map[string]any{
		"backend": "rediqueue",
		"hosts":   []any{},
	}
	assert.Error(t, ShardConfig(doc))
}

func TestShardConfig_HostNeedsAddrOrSentinel(t *testing.T) {
	doc := map[string]any{
		"backend": "rediqueue",
		"hosts":   []any{map[string]any{"password": "secret"}},
	}
	assert.Error(t, ShardConfig(doc))
}

func TestShardConfigBytes_ParsesAndValidates(t *testing.T) {
	data := []byte(`{"backend":"rediqueue","hosts":[{"addr":"localhost:6379"}]}`)
	doc, err := ShardConfigBytes(data)
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestShardConfigBytes_InvalidJSON(t *testing.T) {
	_, err := ShardConfigBytes([]byte(`{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}
