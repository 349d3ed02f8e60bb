package rate

import (
	"context"
	"fmt"
	"io"

	xrate "golang.org/x/time/rate"

	"logpipe/pkg/contract"
)

// Limits: 读取限速配置。BytesPerSec<=0 表示不限速。
type Limits struct {
	BytesPerSec int
	// Burst: 单次可放行的最大字节数；<=0 时取 BytesPerSec。
	Burst int
}

// Enabled 报告是否启用限速。
func (l Limits) Enabled() bool { return l.BytesPerSec > 0 }

// Gate: 字节粒度的令牌桶闸门（并发安全）。
type Gate struct {
	lim   *xrate.Limiter
	burst int
}

// NewGate 构造闸门；未启用时返回 nil，调用方按不限速处理。
func NewGate(l Limits) *Gate {
	if !l.Enabled() {
		return nil
	}
	b := l.Burst
	if b <= 0 {
		b = l.BytesPerSec
	}
	return &Gate{lim: xrate.NewLimiter(xrate.Limit(l.BytesPerSec), b), burst: b}
}

// Burst 返回单次放行上限。
func (g *Gate) Burst() int { return g.burst }

// Wait 阻塞直到 n 字节额度可用或 ctx 取消；n 超过 burst 视为非法。
func (g *Gate) Wait(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if n > g.burst {
		return fmt.Errorf("%w: rate: ask %d exceeds burst %d", contract.ErrInvalidInput, n, g.burst)
	}
	return g.lim.WaitN(ctx, n)
}

// Reader 返回受闸门约束的读取器：单次 Read 最多 burst 字节，读到多少扣多少。
// g 为 nil 时原样返回 r。
func Reader(ctx context.Context, r io.Reader, g *Gate) io.Reader {
	if g == nil {
		return r
	}
	return &throttled{ctx: ctx, r: r, g: g}
}

type throttled struct {
	ctx context.Context
	r   io.Reader
	g   *Gate
}

func (t *throttled) Read(p []byte) (int, error) {
	if len(p) > t.g.burst {
		p = p[:t.g.burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.g.Wait(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
