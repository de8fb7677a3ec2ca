package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 余额的正确性由数据库行锁 + 条件更新保证，这里的锁只用来把同一资源上的
// 并发请求在进入数据库之前排队，减少事务冲突和死锁重试。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本比较 value 后再 DEL，不会误删别人的锁
//
// client 为 nil（未启用 Redis）时所有操作直接成功，退化为只靠数据库锁
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// NewAccountLock 按账户维度加锁：同一账户的扣款请求排队执行
func NewAccountLock(client *redis.Client, accountID int64, requestID string) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("ledger:lock:account:%d", accountID), requestID, 30*time.Second)
}

// NewUIDLock 银行回调按 UID 加锁
// 同一 UID 的多条到账通知串行匹配，避免两条通知同时命中同一笔交易
func NewUIDLock(client *redis.Client, uid int64, requestID string) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("p2p:lock:uid:%d", uid), requestID, 30*time.Second)
}

// NewTradeLock 运营审批按交易加锁
func NewTradeLock(client *redis.Client, tradeID int64, requestID string) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("p2p:lock:trade:%d", tradeID), requestID, 30*time.Second)
}
