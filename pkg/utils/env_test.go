package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("KG_TEST_BOOL", "true")
	t.Setenv("KG_TEST_INT", " 42 ")
	t.Setenv("KG_TEST_DURATION", "250ms")
	t.Setenv("KG_TEST_FLOAT", "0.25")
	t.Setenv("KG_TEST_BAD_INT", "many")

	assert.True(t, GetBoolEnv("KG_TEST_BOOL"))
	assert.Equal(t, int64(42), GetIntEnv("KG_TEST_INT"))
	assert.Equal(t, 250*time.Millisecond, GetDurationEnv("KG_TEST_DURATION"))
	assert.InDelta(t, 0.25, GetFloatEnv("KG_TEST_FLOAT"), 1e-9)
	assert.Equal(t, int64(0), GetIntEnv("KG_TEST_BAD_INT"))
	assert.Equal(t, "", GetEnv("KG_TEST_UNSET"))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	// 没有任何 .env 文件时返回错误，但调用方可以忽略
	assert.Error(t, LoadEnv("test"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.test"), []byte("KG_FROM_ENV_FILE=fromtest\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KG_FROM_ENV_FILE=base\nKG_ONLY_BASE=yes\n"), 0644))
	t.Cleanup(func() {
		os.Unsetenv("KG_FROM_ENV_FILE")
		os.Unsetenv("KG_ONLY_BASE")
	})

	require.NoError(t, LoadEnv("test"))
	assert.Equal(t, "fromtest", GetEnv("KG_FROM_ENV_FILE"))
	assert.Equal(t, "yes", GetEnv("KG_ONLY_BASE"))
}
