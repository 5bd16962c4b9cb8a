package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 生成会话 ID
func GenerateSessionID() string {
	return uuid.NewString()
}

// 生成聊天室令牌，形如 chat_<会话ID前8位>_<毫秒时间戳>_<随机串>
func GenerateRoomToken(sessionID string, at time.Time) string {
	prefix := strings.ReplaceAll(sessionID, "-", "")
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("chat_%s_%d_%s", prefix, at.UnixMilli(), random)
}

// 生成连接 ID
func GenerateClientID() string {
	return "client_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
