package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"neuroconnect/internal/models"
)

// PartyDirectory 参与方（账户）目录。
// FindParty 可返回缓存的资料；FindPartyFresh 必须读取当前状态，用于启用/审核判断。
type PartyDirectory interface {
	FindParty(ctx context.Context, id uint) (*models.User, error)
	FindPartyFresh(ctx context.Context, id uint) (*models.User, error)
	ListProviders(ctx context.Context) ([]models.User, error)
}

// IsEnabledProvider 判断用户是否为可预约的医生（在职且已审核）
func IsEnabledProvider(u *models.User) bool {
	return u != nil && u.Role == models.RoleDoctor && u.Status == models.UserStatusActive && u.Approved
}

// GormPartyDirectory 直接查询 users 表
type GormPartyDirectory struct {
	db *gorm.DB
}

// NewGormPartyDirectory 创建参与方目录
func NewGormPartyDirectory(db *gorm.DB) *GormPartyDirectory {
	return &GormPartyDirectory{db: db}
}

func (d *GormPartyDirectory) FindParty(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := d.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: party %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("find party: %w", err)
	}
	return &u, nil
}

func (d *GormPartyDirectory) FindPartyFresh(ctx context.Context, id uint) (*models.User, error) {
	return d.FindParty(ctx, id)
}

func (d *GormPartyDirectory) ListProviders(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := d.db.WithContext(ctx).
		Where("role = ? AND status = ? AND approved = ?", models.RoleDoctor, models.UserStatusActive, true).
		Order("name ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return out, nil
}

// PartyCache 参与方资料缓存
type PartyCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = redis.Nil

// RedisPartyCache go-redis 实现
type RedisPartyCache struct {
	client *redis.Client
}

// NewRedisPartyCache 连接 Redis 并探活
func NewRedisPartyCache(ctx context.Context, opts *redis.Options) (*RedisPartyCache, error) {
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisPartyCache{client: client}, nil
}

func (c *RedisPartyCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisPartyCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisPartyCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ping 用于就绪检查
func (c *RedisPartyCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPartyCache) Close() error {
	return c.client.Close()
}

// CachedPartyDirectory 在目录前加一层只读缓存。缓存故障只降级为直查，不向调用方报错。
type CachedPartyDirectory struct {
	next   PartyDirectory
	cache  PartyCache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedPartyDirectory 创建带缓存的参与方目录
func NewCachedPartyDirectory(next PartyDirectory, cache PartyCache, ttl time.Duration, logger *logrus.Logger) *CachedPartyDirectory {
	if logger == nil {
		logger = logrus.New()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedPartyDirectory{next: next, cache: cache, ttl: ttl, logger: logger}
}

func partyCacheKey(id uint) string {
	return "party:" + strconv.FormatUint(uint64(id), 10)
}

func (d *CachedPartyDirectory) FindParty(ctx context.Context, id uint) (*models.User, error) {
	key := partyCacheKey(id)
	raw, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var u models.User
		if jsonErr := json.Unmarshal([]byte(raw), &u); jsonErr == nil {
			return &u, nil
		}
		_ = d.cache.Del(ctx, key)
	case !errors.Is(err, ErrCacheMiss):
		d.logger.WithError(err).WithField("party_id", id).Warn("party cache get failed")
	}

	u, err := d.next.FindParty(ctx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

// FindPartyFresh 绕过缓存读取当前资料并回写缓存；账户不存在时清除缓存项
func (d *CachedPartyDirectory) FindPartyFresh(ctx context.Context, id uint) (*models.User, error) {
	u, err := d.next.FindPartyFresh(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = d.cache.Del(ctx, partyCacheKey(id))
		}
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

func (d *CachedPartyDirectory) store(ctx context.Context, u *models.User) {
	b, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, partyCacheKey(u.ID), string(b), d.ttl); err != nil {
		d.logger.WithError(err).WithField("party_id", u.ID).Warn("party cache set failed")
	}
}

func (d *CachedPartyDirectory) ListProviders(ctx context.Context) ([]models.User, error) {
	return d.next.ListProviders(ctx)
}
