package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"logpipe/pkg/contract"
)

// TestOpenFile 读取常规文件
func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.log")
	if err := os.WriteFile(p, []byte("1|a|b;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := New(&Options{Path: p, BufSize: 16})
	rc, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil || string(b) != "1|a|b;" {
		t.Fatalf("unexpected content %q err=%v", string(b), err)
	}
	if r.StreamID() != contract.NormalizeStreamID(p) {
		t.Fatalf("stream id 错误: %s", r.StreamID())
	}
}

// TestOpenReopen 每次 Open 都从头读取
func TestOpenReopen(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.log")
	os.WriteFile(p, []byte("abc"), 0o644)
	r := New(&Options{Path: p})
	for i := 0; i < 2; i++ {
		rc, err := r.Open(context.Background())
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		if string(b) != "abc" {
			t.Fatalf("第 %d 次读取内容错误: %q", i, string(b))
		}
	}
}

// TestOpenMissing 文件不存在归为连接失败
func TestOpenMissing(t *testing.T) {
	r := New(&Options{Path: filepath.Join(t.TempDir(), "nope.log")})
	_, err := r.Open(context.Background())
	if !errors.Is(err, contract.ErrConnection) {
		t.Fatalf("expect ErrConnection, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cause should be kept: %v", err)
	}
}

// TestOpenDirectory 目录不是合法输入
func TestOpenDirectory(t *testing.T) {
	r := New(&Options{Path: t.TempDir()})
	if _, err := r.Open(context.Background()); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("expect ErrInvalidInput, got %v", err)
	}
}

// TestOpenStdin 空路径与 "-" 均为 STDIN
func TestOpenStdin(t *testing.T) {
	for _, p := range []string{"", "-"} {
		r := New(&Options{Path: p})
		if r.StreamID() != "stdin" {
			t.Fatalf("path %q: stream id %s", p, r.StreamID())
		}
		rc, err := r.Open(context.Background())
		if err != nil {
			t.Fatalf("stdin open: %v", err)
		}
		if err := rc.Close(); err != nil {
			t.Fatalf("stdin close: %v", err)
		}
	}
}

// TestOpenCanceled 已取消的 ctx 直接返回
func TestOpenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil).Open(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect canceled, got %v", err)
	}
}
