package idgen

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 结构（64位）：
//
//	0 - 41位毫秒时间戳 - 10位机器ID - 12位序列号
//
// 流水号、消息 key 都基于它生成，保证全局唯一且趋势递增
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// 公开 UID 的取值范围：6 位十进制数
const (
	MinUID = 100000
	MaxUID = 999999
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake 创建生成器，workerID 超出范围时返回错误
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 初始化默认ID生成器，只生效一次
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID 未显式 Init 时使用 workerID=1
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 当前毫秒序列号用完，自旋到下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateTransactionNo 生成流水号
// 格式：TXN + 年月日时分秒 + 雪花ID
func GenerateTransactionNo() string {
	return fmt.Sprintf("TXN%s%d", time.Now().Format("20060102150405"), NextID())
}

// GenerateUID 随机生成 6 位公开 UID
// 只负责取值，唯一性由调用方查库 + 唯一索引保证
func GenerateUID() int64 {
	return int64(MinUID + rand.Intn(MaxUID-MinUID+1))
}
