package trace

const (
	// 锁相关的语义属性键
	AttrLockResource = "dlock.resource"
	AttrLockTenant   = "dlock.tenant_id"
	AttrLockCluster  = "dlock.cluster"
	AttrLockID       = "dlock.lock_id"
	AttrLockAttempts = "dlock.attempts"
	AttrLockOutcome  = "dlock.outcome"
)

const (
	// 锁操作
	LockOperationAcquire = "acquire"
	LockOperationRelease = "release"
)

// SpanNameLock 返回锁操作的标准 Span Name，如 "dlock.acquire"
func SpanNameLock(operation string) string {
	if operation == "" {
		return "dlock"
	}
	return "dlock." + operation
}
