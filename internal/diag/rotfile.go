package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultLogPrefix     = "logpipe"
	DefaultLogMaxBytes   = 10 * 1024 * 1024
	DefaultLogMaxBackups = 5
	logExt               = ".jsonl"
	// 轮转文件的时间戳：UTC，纳秒精度，字典序即时间序
	rotateStamp = "20060102T150405.000000000Z"
)

// RotateOptions 轮转文件选项；零值字段取默认。
type RotateOptions struct {
	Dir    string
	Prefix string
	// MaxBytes: 活动文件的大小上限。
	MaxBytes int64
	// MaxBackups: 保留的历史文件个数；<0 表示不清理。
	MaxBackups int
}

// RotatingFile 按 JSON Lines 写入 <prefix>.jsonl；写入会使其超过上限时，
// 先改名为 <prefix>-<UTC 时间戳>.jsonl，再清理超出 MaxBackups 的最旧文件。
type RotatingFile struct {
	opts RotateOptions

	mu   sync.Mutex
	f    *os.File
	size int64
	last time.Time // 上次轮转时间戳，保证历史文件名严格递增
}

func NewRotatingFile(o RotateOptions) *RotatingFile {
	if strings.TrimSpace(o.Prefix) == "" {
		o.Prefix = DefaultLogPrefix
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultLogMaxBytes
	}
	if o.MaxBackups == 0 {
		o.MaxBackups = DefaultLogMaxBackups
	}
	return &RotatingFile{opts: o}
}

// ActivePath 返回活动日志文件路径。
func (w *RotatingFile) ActivePath() string {
	return filepath.Join(w.opts.Dir, w.opts.Prefix+logExt)
}

// WriteLine 写入一行（自动追加换行）。单行超过上限时仍写入新文件，不截断事件。
func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(); err != nil {
		return err
	}
	need := int64(len(b) + 1)
	if w.size > 0 && w.size+need > w.opts.MaxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	line := make([]byte, 0, len(b)+1)
	line = append(append(line, b...), '\n')
	n, err := w.f.Write(line)
	w.size += int64(n)
	return err
}

func (w *RotatingFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(w.ActivePath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	w.f, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	ts := time.Now().UTC()
	if !ts.After(w.last) {
		ts = w.last.Add(time.Nanosecond)
	}
	w.last = ts
	name := fmt.Sprintf("%s-%s%s", w.opts.Prefix, ts.Format(rotateStamp), logExt)
	if err := os.Rename(w.ActivePath(), filepath.Join(w.opts.Dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate log: %w", err)
	}
	w.prune()
	return w.open()
}

// prune 删除超出保留个数的最旧历史文件；失败忽略，下次轮转再试。
func (w *RotatingFile) prune() {
	if w.opts.MaxBackups < 0 {
		return
	}
	old := w.Backups()
	for len(old) > w.opts.MaxBackups {
		_ = os.Remove(old[0])
		old = old[1:]
	}
}

// Backups 返回历史文件路径（从旧到新）。
func (w *RotatingFile) Backups() []string {
	matches, _ := filepath.Glob(filepath.Join(w.opts.Dir, w.opts.Prefix+"-*"+logExt))
	sort.Strings(matches)
	return matches
}

// Close 关闭活动文件；之后的写入会重新打开。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
