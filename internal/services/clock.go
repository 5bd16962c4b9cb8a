package services

import (
	"sync"
	"time"
)

// Clock 提供当前时间，生命周期计算与过期判断统一经由此接口
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock 返回基于系统时间的时钟（UTC）
func SystemClock() Clock { return systemClock{} }

// ManualClock 手动推进的时钟，用于测试与离线重放
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 创建停在 t 的时钟
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 将时钟向前推进 d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set 将时钟设置为 t
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
