// internal/service/idempotency/domain/record.go
package domain

import (
	"errors"
	"time"
)

var (
	ErrKeyNotFound  = errors.New("idempotency key not found")
	ErrDuplicateKey = errors.New("idempotency key already exists")
)

// Status 是幂等记录的处理状态。
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Record 以外部幂等键为主键，记录一次逻辑请求的处理结果。
// key 列上的唯一约束是并发相同请求的唯一串行化点。
type Record struct {
	Key          string
	RequestType  string
	UserID       string
	EntityID     string
	Status       Status
	ResponseData []byte
	ErrorMessage string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewRecord 创建一条 PROCESSING 状态的新记录。
func NewRecord(key, requestType, userID, entityID string) *Record {
	now := time.Now()
	return &Record{
		Key:         key,
		RequestType: requestType,
		UserID:      userID,
		EntityID:    entityID,
		Status:      StatusProcessing,
		Attempts:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsZombie 判断记录是否卡在 PROCESSING 超过僵尸阈值。
// CreatedAt 不随重试刷新，所以以 UpdatedAt 为准。
func (r *Record) IsZombie(now time.Time, zombieAge time.Duration) bool {
	return r.Status == StatusProcessing && now.Sub(r.UpdatedAt) >= zombieAge
}

// Outcome 是 acquireKey 的四种结果。
type Outcome string

const (
	OutcomeNewRequest       Outcome = "NEW_REQUEST"       // 新记录已建立，调用方继续执行
	OutcomeProcessing       Outcome = "PROCESSING"        // 同键请求正在处理，客户端稍后重试
	OutcomeAlreadyCompleted Outcome = "ALREADY_COMPLETED" // 原样重放存储的响应
	OutcomeFailed           Outcome = "FAILED"            // 上次尝试失败或超时，可重新发起
)

// AcquireResult 携带 acquireKey 的结果与附带数据。
type AcquireResult struct {
	Outcome  Outcome
	Record   *Record
	Response []byte // AlreadyCompleted 时为存储的响应
	Message  string
}
