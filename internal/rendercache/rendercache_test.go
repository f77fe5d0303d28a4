package rendercache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFormat(t *testing.T) {
	k := Key(time.UnixMilli(1_700_000_000_123))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f-]{36}-1700000000123\.json$`), k)
	assert.NotEqual(t, k, Key(time.UnixMilli(1_700_000_000_123)))
}

func TestRedisPut(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewRedis(rdb, "", time.Hour)
	require.NoError(t, c.Put(context.Background(), "k.json", map[string]string{"subject": "hi"}))

	got, err := mr.Get("render:k.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"hi"}`, got)
	assert.Equal(t, time.Hour, mr.TTL("render:k.json"))
}

func TestDirPut(t *testing.T) {
	root := filepath.Join(t.TempDir(), "renders")
	d, err := NewDir(root)
	require.NoError(t, err)
	require.NoError(t, d.Put(context.Background(), "a.json", map[string]int{"n": 2}))

	b, err := os.ReadFile(filepath.Join(root, "a.json"))
	require.NoError(t, err)
	var doc map[string]int
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, 2, doc["n"])

	_, err = NewDir("")
	assert.Error(t, err)
}
