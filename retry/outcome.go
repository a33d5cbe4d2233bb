package retry

// Kind 单次尝试结果的分类
type Kind int

const (
	// KindSuccess 成功，立即返回
	KindSuccess Kind = iota
	// KindContention 资源被其他持有者占用，总是参与重试判断
	KindContention
	// KindHard 传输或协议错误，AutomaticRetry 关闭时立即返回
	KindHard
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindContention:
		return "contention"
	case KindHard:
		return "hard"
	default:
		return "unknown"
	}
}

// Outcome 单次尝试的结果，引擎只根据 Kind 分支
type Outcome[T any] struct {
	Kind  Kind
	Value T
	Err   error

	permanent bool
}

// Success 构造成功结果
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: KindSuccess, Value: v}
}

// Contention 构造争用结果
func Contention[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: KindContention, Err: err}
}

// Hard 构造硬错误结果
func Hard[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: KindHard, Err: err}
}

// Permanent 构造不可重试的硬错误，无论 AutomaticRetry 是否打开都立即返回
func Permanent[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: KindHard, Err: err, permanent: true}
}
