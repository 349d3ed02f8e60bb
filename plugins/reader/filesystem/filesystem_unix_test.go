//go:build !windows

package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

// TestOpenNamedPipe 命名管道可作为输入 (Unix only - uses mkfifo)
func TestOpenNamedPipe(t *testing.T) {
	root := t.TempDir()
	fifo := filepath.Join(root, "fifo")
	if err := syscall.Mkfifo(fifo, 0o644); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	go func() {
		f, err := os.OpenFile(fifo, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		_, _ = f.Write([]byte("1|a|b;"))
		_ = f.Close()
	}()
	rc, err := New(&Options{Path: fifo}).Open(context.Background())
	if err != nil {
		t.Fatalf("open fifo: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "1|a|b;" {
		t.Fatalf("unexpected %q", string(b))
	}
}

// TestOpenSymlink 跟随指向常规文件的符号链接 (Unix only)
func TestOpenSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "t.log")
	os.WriteFile(target, []byte("ok"), 0o644)
	link := filepath.Join(dir, "l.log")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	rc, err := New(&Options{Path: link}).Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "ok" {
		t.Fatalf("unexpected %q", string(b))
	}
}
