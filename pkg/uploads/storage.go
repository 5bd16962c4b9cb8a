// Package uploads stores chat attachments (images and files) and returns a
// stable retrieval path for the message record.
package uploads

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Storage 附件存储
type Storage interface {
	// Save 写入对象并返回可检索路径
	Save(ctx context.Context, name string, r io.Reader, size int64, mimeType string) (string, error)
	// Delete 删除 Save 写入的对象；对象不存在时不报错
	Delete(ctx context.Context, name string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectName 生成对象名：<会话ID>/<毫秒时间戳>_<清洗后的文件名>
func ObjectName(sessionID, filename string, at time.Time) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "file"
	}
	return fmt.Sprintf("%s/%d_%s", sessionID, at.UnixMilli(), base)
}

// ParseSize 将形如 "10MB", "512KB", "1048576" 的配置解析为字节数
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	units := []struct {
		suffix string
		mul    int64
	}{
		{"KB", 1024},
		{"MB", 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 64)
			if err != nil {
				return 0, err
			}
			return int64(n * float64(u.mul)), nil
		}
	}
	return 0, fmt.Errorf("unknown size format: %s", s)
}

// IsAllowedType 判断文件是否满足允许类型（支持扩展名与 MIME，MIME 支持 "image/*"）
func IsAllowedType(filename, mimeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, t := range allowed {
		t = strings.ToLower(strings.TrimSpace(t))
		switch {
		case t == "*" || t == "*/*":
			return true
		case strings.HasPrefix(t, "."):
			if ext == t {
				return true
			}
		case mimeType == t:
			return true
		case strings.HasSuffix(t, "/*") && strings.HasPrefix(mimeType, strings.TrimSuffix(t, "*")):
			return true
		}
	}
	return false
}

// IsImage 根据 MIME 判断附件是否按图片消息处理
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}
