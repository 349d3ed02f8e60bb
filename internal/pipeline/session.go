package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"logpipe/internal/diag"
	"logpipe/internal/rate"
	"logpipe/pkg/contract"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 200 * time.Millisecond
)

// Session 以“整体重来”的方式执行多次尝试：每次尝试重新打开输入、截断两类输出并从头运行。
type Session struct {
	Source contract.Source
	Writer contract.Writer
	// NewDecoder 每次尝试构造新的解码器（解码器持有跨块残留状态）。
	NewDecoder func() contract.Decoder
	Splitter   contract.Splitter
	Validator  contract.Validator
	Settings   Settings

	ValidName   contract.ArtifactID
	InvalidName contract.ArtifactID

	// MaxAttempts<=0 取默认值 3。
	MaxAttempts int
	// RetryDelay 为两次尝试之间的等待；0 表示立即重试。
	RetryDelay time.Duration
	RateLimit  rate.Limits
	Logger     *diag.Logger
}

// Result 会话结果：尝试次数与最后一次尝试的统计。
type Result struct {
	Attempts int
	Stats    Stats
}

// StreamID 返回输入流标识（Source 未实现 contract.Named 时为空）。
func (s *Session) StreamID() contract.StreamID {
	if n, ok := s.Source.(contract.Named); ok {
		return n.StreamID()
	}
	return ""
}

// Run 依次尝试直到成功、次数耗尽或 ctx 取消。
func (s *Session) Run(ctx context.Context) (Result, error) {
	if err := s.check(); err != nil {
		return Result{}, err
	}
	limit := s.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	stream := s.StreamID()
	gate := rate.NewGate(s.RateLimit)
	term := diag.GetTerminal()
	term.RunStart(string(stream), limit)
	t0 := time.Now()

	var res Result
	var lastErr error
	for n := 1; n <= limit; n++ {
		if n > 1 {
			if err := sleepWithCtx(ctx, s.RetryDelay); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}
		res.Attempts = n
		term.AttemptStart(n)
		at := time.Now()
		st, err := s.attempt(ctx, n, stream, gate)
		res.Stats = st
		term.AttemptFinish(err == nil, st.Valid, st.Invalid, time.Since(at))
		if err == nil {
			diag.IncAttempt("success")
			term.RunFinish(true, time.Since(t0))
			return res, nil
		}
		diag.IncAttempt("error")
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if n < limit {
			s.Logger.WarnWith("session", string(diag.Classify(err)), "attempt failed, retrying: "+err.Error(),
				string(stream), strconv.Itoa(n), map[string]string{"max_attempts": strconv.Itoa(limit)})
		}
	}
	term.RunFinish(false, time.Since(t0))
	err := fmt.Errorf("session: %d attempts failed: %w", res.Attempts, lastErr)
	s.Logger.ErrorWith("session", string(diag.Classify(lastErr)), err.Error(), &t0, string(stream), strconv.Itoa(res.Attempts))
	return res, err
}

// attempt 执行一次完整尝试；打开、运行、关闭中任一环节出错均视为失败。
func (s *Session) attempt(ctx context.Context, n int, stream contract.StreamID, gate *rate.Gate) (st Stats, err error) {
	timer := s.Logger.StartWith("session", "attempt", string(stream), strconv.Itoa(n))
	defer func() {
		if err == nil {
			timer.Finish("attempt", int64(st.Records))
		}
	}()

	rc, err := s.Source.Open(ctx)
	if err != nil {
		return Stats{State: Failed}, fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close source: %w: %w", contract.ErrConnection, cerr)
		}
	}()

	vw, err := s.Writer.Open(ctx, s.ValidName)
	if err != nil {
		return Stats{State: Failed}, fmt.Errorf("open %s: %w", s.ValidName, err)
	}
	defer func() {
		if cerr := vw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w: %w", s.ValidName, contract.ErrSinkWrite, cerr)
		}
	}()
	iw, err := s.Writer.Open(ctx, s.InvalidName)
	if err != nil {
		return Stats{State: Failed}, fmt.Errorf("open %s: %w", s.InvalidName, err)
	}
	defer func() {
		if cerr := iw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w: %w", s.InvalidName, contract.ErrSinkWrite, cerr)
		}
	}()

	set := s.Settings
	set.Stream = stream
	set.Attempt = n
	comp := Components{Decoder: s.NewDecoder(), Splitter: s.Splitter, Validator: s.Validator}
	return Run(ctx, comp, set, rate.Reader(ctx, rc, gate), Outputs{Valid: vw, Invalid: iw}, s.Logger)
}

func (s *Session) check() error {
	if s.Source == nil || s.Writer == nil || s.NewDecoder == nil || s.Splitter == nil || s.Validator == nil {
		return fmt.Errorf("%w: session: missing components", contract.ErrInvalidInput)
	}
	if s.ValidName == "" || s.InvalidName == "" || s.ValidName == s.InvalidName {
		return fmt.Errorf("%w: session: output names must be non-empty and distinct", contract.ErrInvalidInput)
	}
	return nil
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
