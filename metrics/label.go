package metrics

// Label 指标标签，为指标添加维度
//
// 标签值应保持低基数：不要把锁 ID、请求 ID 这类唯一值放进标签。
type Label struct {
	Key   string
	Value string
}

// L 便捷构造函数
//
//	counter.Inc(ctx, metrics.L("operation", "acquire"))
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
