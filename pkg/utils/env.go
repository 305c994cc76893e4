package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv 加载 .env 文件
// env 不为空时优先加载 .env.<env>，随后加载 .env 作为兜底，已存在的环境变量不会被覆盖
func LoadEnv(env string) error {
	files := make([]string, 0, 2)
	if env != "" {
		files = append(files, ".env."+env)
	}
	files = append(files, ".env")

	var loaded int
	var lastErr error
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			lastErr = err
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
		loaded++
	}
	if loaded == 0 {
		return lastErr
	}
	return nil
}

// GetEnv 读取环境变量并去除首尾空白
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetBoolEnv 读取布尔环境变量，无法解析时返回 false
func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

// GetIntEnv 读取整数环境变量，无法解析时返回 0
func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

// GetFloatEnv 读取浮点环境变量，无法解析时返回 0
func GetFloatEnv(key string) float64 {
	return cast.ToFloat64(GetEnv(key))
}

// GetDurationEnv 读取时长环境变量，支持 "500ms"、"2s"，纯数字按纳秒处理
func GetDurationEnv(key string) time.Duration {
	return cast.ToDuration(GetEnv(key))
}
