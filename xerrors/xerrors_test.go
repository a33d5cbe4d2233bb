package xerrors

import (
	"errors"
	"testing"
)

func TestWrap(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Wrap(nil) = %v，期望 nil", err)
	}

	base := errors.New("base error")
	wrapped := Wrap(base, "context")
	if wrapped.Error() != "context: base error" {
		t.Errorf("Wrap(err).Error() = %q，期望 %q", wrapped.Error(), "context: base error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("errors.Is(wrapped, base) = false，期望 true")
	}
}

func TestWrapf(t *testing.T) {
	if err := Wrapf(nil, "resource %s", "orders"); err != nil {
		t.Errorf("Wrapf(nil) = %v，期望 nil", err)
	}

	base := errors.New("not found")
	wrapped := Wrapf(base, "resource %s", "orders")
	if wrapped.Error() != "resource orders: not found" {
		t.Errorf("Wrapf(err).Error() = %q", wrapped.Error())
	}
}

func TestMark(t *testing.T) {
	if err := Mark(nil, ErrTimeout); err != nil {
		t.Errorf("Mark(nil) = %v，期望 nil", err)
	}

	kind := errors.New("dlock: not acquired")
	cause := Wrap(ErrInvalidInput, "bad reply from service, missing lock_id")
	marked := Mark(cause, kind)

	if marked.Error() != "dlock: not acquired: bad reply from service, missing lock_id: invalid input" {
		t.Errorf("Mark().Error() = %q", marked.Error())
	}
	if !errors.Is(marked, kind) || !errors.Is(marked, cause) || !errors.Is(marked, ErrInvalidInput) {
		t.Error("Mark() 应同时匹配 kind 与 cause 链")
	}

	// 已属于 kind 的错误不重复标记
	if again := Mark(marked, kind); again != marked {
		t.Error("Mark() 对已标记错误应原样返回")
	}
	if same := Mark(cause, nil); same != cause {
		t.Error("Mark(err, nil) 应原样返回 err")
	}
}

func TestWithCode(t *testing.T) {
	if err := WithCode(nil, "CODE"); err != nil {
		t.Errorf("WithCode(nil) = %v，期望 nil", err)
	}

	base := errors.New("conflict")
	coded := WithCode(base, "CONTENTION")
	if coded.Error() != "[CONTENTION] conflict" {
		t.Errorf("WithCode(err).Error() = %q", coded.Error())
	}
	if code := GetCode(Wrap(coded, "acquire")); code != "CONTENTION" {
		t.Errorf("GetCode() = %q，期望 CONTENTION", code)
	}
	if code := GetCode(base); code != "" {
		t.Errorf("GetCode(plain) = %q，期望空", code)
	}
}

func TestMust(t *testing.T) {
	if v := Must(42, nil); v != 42 {
		t.Errorf("Must() = %d，期望 42", v)
	}

	defer func() {
		if recover() == nil {
			t.Error("Must(err) 应 panic")
		}
	}()
	Must(0, errors.New("boom"))
}

func TestCollector(t *testing.T) {
	var c Collector
	if c.Err() != nil {
		t.Error("空 Collector 应返回 nil")
	}
	first := errors.New("first")
	c.Collect(nil)
	c.Collect(first)
	c.Collect(errors.New("second"))
	if c.Err() != first {
		t.Errorf("Collector.Err() = %v，期望 first", c.Err())
	}
}

func TestCombine(t *testing.T) {
	if err := Combine(nil, nil); err != nil {
		t.Errorf("Combine(nil, nil) = %v，期望 nil", err)
	}

	err1 := errors.New("work failed")
	if err := Combine(nil, err1); err != err1 {
		t.Errorf("Combine 单个错误应原样返回")
	}

	err2 := errors.New("release failed")
	combined := Combine(err1, err2)
	if combined.Error() != "work failed (and 1 more errors)" {
		t.Errorf("Combine().Error() = %q", combined.Error())
	}
	if !errors.Is(combined, err1) || !errors.Is(combined, err2) {
		t.Error("Combine 的结果应匹配全部错误")
	}
}

func TestReExports(t *testing.T) {
	err := New("test error")
	if !Is(Wrap(err, "ctx"), err) {
		t.Error("Is(Wrap(err), err) = false，期望 true")
	}
	var coded *CodedError
	if !As(WithCode(err, "X"), &coded) {
		t.Error("As 应能取出 CodedError")
	}
}
