package dlock

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/ceyewan/distlock/xerrors"
)

// TimeFormat 锁记录中时间戳的线上格式：UTC，整秒，Z 后缀
const TimeFormat = "2006-01-02T15:04:05Z"

// 按服务端回复的检查顺序排列
var requiredKeys = []string{
	"lock_id",
	"resource",
	"tenant_id",
	"created",
	"expires",
	"user_agent",
	"user_data",
}

// 不带时区的时间戳按 UTC 处理
var bareLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// lockRecord 线上 JSON 的字段顺序
type lockRecord struct {
	Resource  string `json:"resource"`
	LockID    string `json:"lock_id"`
	TenantID  string `json:"tenant_id"`
	Created   string `json:"created"`
	Expires   string `json:"expires"`
	UserAgent string `json:"user_agent"`
	UserData  any    `json:"user_data"`
}

// DecodeLock 解析服务端返回的锁记录
//
// 七个字段必须全部出现（user_agent、user_data 的值可以为空或 null），
// 缺少任何一个都返回 ErrMalformedRecord。
func DecodeLock(body []byte) (*AcquiredLock, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, xerrors.Mark(xerrors.Wrap(err, "decode lock record"), ErrMalformedRecord)
	}
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			return nil, xerrors.Wrapf(ErrMalformedRecord, "missing %s", key)
		}
	}

	l := &AcquiredLock{}
	var err error
	if l.Resource, err = decodeString(raw, "resource", false); err != nil {
		return nil, err
	}
	if l.LockID, err = decodeString(raw, "lock_id", false); err != nil {
		return nil, err
	}
	if l.TenantID, err = decodeString(raw, "tenant_id", false); err != nil {
		return nil, err
	}
	if l.UserAgent, err = decodeString(raw, "user_agent", true); err != nil {
		return nil, err
	}
	if l.Created, err = decodeTime(raw, "created"); err != nil {
		return nil, err
	}
	if l.Expires, err = decodeTime(raw, "expires"); err != nil {
		return nil, err
	}
	if l.UserData, err = decodeUserData(raw["user_data"]); err != nil {
		return nil, err
	}
	return l, nil
}

// decodeUserData 数字保留为 json.Number，服务端原样回传的大整数不会丢精度
func decodeUserData(data json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, xerrors.Mark(xerrors.Wrap(err, "decode user_data"), ErrMalformedRecord)
	}
	return v, nil
}

// EncodeLock 序列化锁记录，时间戳截断到秒并以 Z 结尾
func EncodeLock(l *AcquiredLock) ([]byte, error) {
	if l == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "dlock: encode nil lock")
	}
	return json.Marshal(lockRecord{
		Resource:  l.Resource,
		LockID:    l.LockID,
		TenantID:  l.TenantID,
		Created:   FormatTime(l.Created),
		Expires:   FormatTime(l.Expires),
		UserAgent: l.UserAgent,
		UserData:  l.UserData,
	})
}

// FormatTime 以线上格式输出时间戳，不会带小数秒
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeFormat)
}

// ParseTime 解析 ISO-8601 时间戳，接受 Z、数字时区偏移、小数秒以及不带时区的写法
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range bareLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, xerrors.Wrapf(xerrors.ErrInvalidInput, "not an ISO-8601 timestamp: %q", s)
}

// MarshalJSON 使用 EncodeLock 的线上格式
func (l AcquiredLock) MarshalJSON() ([]byte, error) {
	return EncodeLock(&l)
}

// UnmarshalJSON 使用 DecodeLock 的校验规则
func (l *AcquiredLock) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeLock(data)
	if err != nil {
		return err
	}
	*l = *decoded
	return nil
}

// Remaining 返回距离租约到期的时间，已过期时为 0
func (l *AcquiredLock) Remaining(now time.Time) time.Duration {
	if d := l.Expires.Sub(now); d > 0 {
		return d
	}
	return 0
}

func decodeString(raw map[string]json.RawMessage, key string, nullable bool) (string, error) {
	var v *string
	if err := json.Unmarshal(raw[key], &v); err != nil {
		return "", xerrors.Wrapf(ErrMalformedRecord, "%s is not a string", key)
	}
	if v == nil {
		if !nullable {
			return "", xerrors.Wrapf(ErrMalformedRecord, "%s is null", key)
		}
		return "", nil
	}
	return *v, nil
}

func decodeTime(raw map[string]json.RawMessage, key string) (time.Time, error) {
	s, err := decodeString(raw, key, false)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, xerrors.Mark(xerrors.Wrapf(err, "parse %s", key), ErrMalformedRecord)
	}
	return t, nil
}
