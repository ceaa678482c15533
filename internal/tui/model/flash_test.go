package model

import (
	"testing"
	"time"
)

func TestFlashExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	f := &Flash{now: func() time.Time { return now }}

	f.Error("send failed", 5*time.Second)
	msg, level := f.Get()
	if msg != "send failed" || level != FlashError {
		t.Errorf("Get() = %q, %v, want send failed, FlashError", msg, level)
	}

	now = now.Add(6 * time.Second)
	if msg, _ := f.Get(); msg != "" {
		t.Errorf("Get() after expiry = %q, want empty", msg)
	}
}

func TestFlashClear(t *testing.T) {
	var f Flash
	f.Info("connected", time.Minute)
	f.Clear()
	if msg, _ := f.Get(); msg != "" {
		t.Errorf("Get() after Clear = %q, want empty", msg)
	}
}
