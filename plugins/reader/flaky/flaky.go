package flaky

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"logpipe/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	// FailTimes: 前 N 次 Open 视为失败。
	FailTimes int `json:"fail_times"`
	// FailAfterBytes: >0 时失败的尝试不在 Open 报错，而是读到该字节数后中断。
	FailAfterBytes int `json:"fail_after_bytes,omitempty"`
	// Path / Inline: 成功时提供的数据（二选一，Path 优先）。
	Path   string `json:"path,omitempty"`
	Inline string `json:"inline,omitempty"`
}

// Source 是带状态的输入源，用于演练重试：
// 前 FailTimes 次尝试失败，之后正常返回数据。
type Source struct {
	opts  Options
	count atomic.Int32
}

// New 构造 Source。
func New(opts *Options) (*Source, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.FailTimes < 0 || o.FailAfterBytes < 0 {
		return nil, fmt.Errorf("%w: flaky: negative option", contract.ErrInvalidInput)
	}
	return &Source{opts: o}, nil
}

var (
	_ contract.Source = (*Source)(nil)
	_ contract.Named  = (*Source)(nil)
)

// StreamID 实现 contract.Named。
func (s *Source) StreamID() contract.StreamID {
	if s.opts.Path != "" {
		return contract.NormalizeStreamID(s.opts.Path)
	}
	return "flaky"
}

// Attempts 返回已发生的 Open 次数。
func (s *Source) Attempts() int { return int(s.count.Load()) }

var errInjected = errors.New("flaky: injected failure")

// Open 实现 contract.Source。
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int(s.count.Add(1))
	failing := n <= s.opts.FailTimes
	if failing && s.opts.FailAfterBytes == 0 {
		return nil, fmt.Errorf("%w: attempt %d: %w", contract.ErrConnection, n, errInjected)
	}
	rc, err := s.data()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contract.ErrConnection, err)
	}
	if failing {
		return &cutReader{rc: rc, left: s.opts.FailAfterBytes}, nil
	}
	return rc, nil
}

func (s *Source) data() (io.ReadCloser, error) {
	if s.opts.Path != "" {
		return os.Open(s.opts.Path)
	}
	return io.NopCloser(strings.NewReader(s.opts.Inline)), nil
}

// cutReader 读到 left 字节后返回注入错误，模拟连接中途断开。
type cutReader struct {
	rc   io.ReadCloser
	left int
}

func (c *cutReader) Read(p []byte) (int, error) {
	if c.left <= 0 {
		return 0, errInjected
	}
	if len(p) > c.left {
		p = p[:c.left]
	}
	n, err := c.rc.Read(p)
	c.left -= n
	if err == io.EOF {
		return n, errInjected
	}
	return n, err
}

func (c *cutReader) Close() error { return c.rc.Close() }
