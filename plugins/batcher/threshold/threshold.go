package threshold

import (
	"bytes"
	"fmt"
	"io"

	"logpipe/pkg/contract"
)

// DefaultThreshold: 默认冲刷阈值 30MiB。
const DefaultThreshold = 30 * 1024 * 1024

// Sink 将同一类别的输出行累积到内存缓冲，达到阈值或流结束时一次性写出。
// 非并发安全：持有者由 pipeline 的单槽背压保证唯一。
type Sink struct {
	w         io.Writer
	buf       bytes.Buffer
	threshold int

	flushes int64
	written int64
}

// New 创建 Sink；threshold<=0 使用默认值。
func New(w io.Writer, threshold int) *Sink {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Sink{w: w, threshold: threshold}
}

var _ contract.Sink = (*Sink)(nil)

// Append 追加一行（调用方保证 line 自带换行/分隔）。
func (s *Sink) Append(line string) { s.buf.WriteString(line) }

// FlushIfThresholdReached 缓冲字节数达到阈值时写出。
func (s *Sink) FlushIfThresholdReached() error {
	if s.buf.Len() < s.threshold {
		return nil
	}
	return s.flush()
}

// FlushFinal 写出剩余全部缓冲（流结束时调用）。
func (s *Sink) FlushFinal() error {
	if s.buf.Len() == 0 {
		return nil
	}
	return s.flush()
}

// Buffered 返回当前未写出的字节数。
func (s *Sink) Buffered() int { return s.buf.Len() }

// Flushes 返回已完成的写出次数。
func (s *Sink) Flushes() int64 { return s.flushes }

// Written 返回已写出的字节总数。
func (s *Sink) Written() int64 { return s.written }

// flush 单次 Write 写出整段缓冲，保证记录不被拆分到两次写出。
func (s *Sink) flush() error {
	n, err := s.w.Write(s.buf.Bytes())
	s.written += int64(n)
	if err == nil && n < s.buf.Len() {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("%w: %w", contract.ErrSinkWrite, err)
	}
	s.flushes++
	s.buf.Reset()
	return nil
}
