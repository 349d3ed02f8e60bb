package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"logpipe/internal/diag"
	"logpipe/pkg/contract"
	"logpipe/plugins/batcher/threshold"
)

// - 单点并发：仅此层管理并发与背压；原子组件均为同步、无内部并发。
// - 单槽处理：生产者（读取+解码+切分）与处理任务（校验+写出）最多重叠一个批次；提交阻塞即背压。
// - 顺序：批次按切分顺序串行处理，输出顺序与输入一致。
// - 首错取消：任一阶段出错即进入 Failed；已落盘的内容保留，缓冲中的内容丢弃。

const (
	DefaultReadChunkSize = 1013
	DefaultMaxBufferSize = 100 * 1024 * 1024
	DefaultIOBufferSize  = threshold.DefaultThreshold
)

// State 是单次运行的状态。
type State int

const (
	Idle State = iota
	Streaming
	Draining
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Components 聚合单次运行所需的原子组件。Decoder 有状态，每次运行须使用新实例。
type Components struct {
	Decoder   contract.Decoder
	Splitter  contract.Splitter
	Validator contract.Validator
}

// Settings 运行期配置（不可变）。零值字段取默认值。
type Settings struct {
	ReadChunkSize int
	// MaxBufferSize: 解码文本的字节上限；超过时强制切分。
	MaxBufferSize int
	// IOBufferSize: 输出缓冲的落盘阈值（字节）。
	IOBufferSize int
	// 仅用于日志与终端提示
	Stream  contract.StreamID
	Attempt int
}

func (s Settings) withDefaults() Settings {
	if s.ReadChunkSize <= 0 {
		s.ReadChunkSize = DefaultReadChunkSize
	}
	if s.MaxBufferSize <= 0 {
		s.MaxBufferSize = DefaultMaxBufferSize
	}
	if s.IOBufferSize <= 0 {
		s.IOBufferSize = DefaultIOBufferSize
	}
	return s
}

// Outputs 两类输出的目标。
type Outputs struct {
	Valid   io.Writer
	Invalid io.Writer
}

// Stats 单次运行的汇总。
type Stats struct {
	Bytes   int64
	Chunks  int
	Records int
	Valid   int
	Invalid int
	Batches int
	Flushes int64
	State   State
}

// Run 消费 src 直到 EOF：读取 → 解码 → 切分 → （单槽）校验与写出 → 收尾冲刷。
// 返回时 Stats.State 为 Done 或 Failed。
func Run(ctx context.Context, comp Components, set Settings, src io.Reader, out Outputs, logger *diag.Logger) (Stats, error) {
	if err := sanity(comp, src, out); err != nil {
		return Stats{State: Failed}, fmt.Errorf("sanity: %w", err)
	}
	set = set.withDefaults()
	stream, attempt := string(set.Stream), strconv.Itoa(set.Attempt)

	p := &processor{
		val:     comp.Validator,
		valid:   threshold.New(out.Valid, set.IOBufferSize),
		invalid: threshold.New(out.Invalid, set.IOBufferSize),
	}
	st := Stats{State: Streaming}
	timer := logger.StartWith("pipeline", "run", stream, attempt)

	// 仅在 g.Wait 之后调用
	fail := func(err error) (Stats, error) {
		st.State = Failed
		st.Records, st.Valid, st.Invalid = p.counts()
		st.Flushes = p.valid.Flushes() + p.invalid.Flushes()
		code := diag.Classify(err)
		logger.ErrorWith("pipeline", string(code), err.Error(), timer.Since(), stream, attempt)
		diag.IncOp("pipeline", "run", "error")
		diag.IncError("pipeline", string(code))
		return st, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(1)

	perr := func() error {
		buf := make([]byte, set.ReadChunkSize)
		var pending strings.Builder
		for {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, rerr := src.Read(buf)
			if n > 0 {
				st.Bytes += int64(n)
				st.Chunks++
				diag.AddBytesRead(n)
				text, err := comp.Decoder.Feed(buf[:n])
				if err != nil {
					return fmt.Errorf("decode chunk %d: %w", st.Chunks, err)
				}
				pending.WriteString(text)
				if pending.Len() > set.MaxBufferSize {
					recs, rem := comp.Splitter.Split(pending.String())
					if len(recs) == 0 {
						return fmt.Errorf("%w: %d bytes without record separator", contract.ErrOversizedRecord, pending.Len())
					}
					pending.Reset()
					pending.WriteString(rem)
					if err := gctx.Err(); err != nil {
						return err
					}
					st.Batches++
					logger.DebugStart("pipeline", "submit", stream, attempt, map[string]string{"records": strconv.Itoa(len(recs))})
					// 槽位被占用时阻塞，直到上一批处理完成
					g.Go(func() error { return p.process(gctx, recs) })
				}
				if t := diag.GetTerminal(); t != nil {
					_, v, iv := p.counts()
					t.Progress(st.Bytes, v, iv)
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				if cerr := ctx.Err(); cerr != nil && errors.Is(rerr, cerr) {
					return rerr
				}
				if errors.Is(rerr, contract.ErrConnection) {
					return fmt.Errorf("read: %w", rerr)
				}
				return fmt.Errorf("read: %w: %w", contract.ErrConnection, rerr)
			}
		}
		// 收尾：解码器残留 + 最后一段（含无结尾分隔符的记录）
		st.State = Draining
		tail, err := comp.Decoder.Flush()
		if err != nil {
			return fmt.Errorf("decode flush: %w", err)
		}
		pending.WriteString(tail)
		recs, rem := comp.Splitter.Split(pending.String())
		if rem != "" {
			recs = append(recs, rem)
		}
		pending.Reset()
		if len(recs) > 0 {
			st.Batches++
			g.Go(func() error { return p.process(gctx, recs) })
		}
		return nil
	}()
	// 任务错误是生产者被取消的根因，优先返回
	if werr := g.Wait(); werr != nil {
		return fail(werr)
	}
	if perr != nil {
		return fail(perr)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := p.valid.FlushFinal(); err != nil {
		return fail(fmt.Errorf("flush valid: %w", err))
	}
	if err := p.invalid.FlushFinal(); err != nil {
		return fail(fmt.Errorf("flush invalid: %w", err))
	}
	p.noteFlushes()

	st.State = Done
	st.Records, st.Valid, st.Invalid = p.counts()
	st.Flushes = p.valid.Flushes() + p.invalid.Flushes()
	timer.Finish("run", int64(st.Records))
	diag.IncOp("pipeline", "run", "success")
	if t0 := timer.Since(); t0 != nil {
		diag.ObserveDuration("pipeline", "run", time.Since(*t0).Milliseconds())
	}
	return st, nil
}

// processor 持有两类输出缓冲；同一时刻只被一个任务使用。
type processor struct {
	val     contract.Validator
	valid   *threshold.Sink
	invalid *threshold.Sink

	// 生产者读取进度时并发访问
	records atomic.Int64
	nValid  atomic.Int64
	nBad    atomic.Int64

	// 已上报的落盘次数
	seenValid   int64
	seenInvalid int64
}

func (p *processor) process(ctx context.Context, recs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var v, bad int
	for _, r := range recs {
		o := p.val.Validate(r)
		if o.Valid {
			p.valid.Append(o.Line)
			v++
			if err := p.valid.FlushIfThresholdReached(); err != nil {
				return fmt.Errorf("flush valid: %w", err)
			}
			continue
		}
		p.invalid.Append(o.Line)
		bad++
		if err := p.invalid.FlushIfThresholdReached(); err != nil {
			return fmt.Errorf("flush invalid: %w", err)
		}
	}
	p.records.Add(int64(len(recs)))
	p.nValid.Add(int64(v))
	p.nBad.Add(int64(bad))
	diag.AddRecords("valid", v)
	diag.AddRecords("invalid", bad)
	p.noteFlushes()
	return nil
}

func (p *processor) noteFlushes() {
	for ; p.seenValid < p.valid.Flushes(); p.seenValid++ {
		diag.IncFlush("valid")
	}
	for ; p.seenInvalid < p.invalid.Flushes(); p.seenInvalid++ {
		diag.IncFlush("invalid")
	}
}

func (p *processor) counts() (records, valid, invalid int) {
	return int(p.records.Load()), int(p.nValid.Load()), int(p.nBad.Load())
}

func sanity(c Components, src io.Reader, out Outputs) error {
	if c.Decoder == nil || c.Splitter == nil || c.Validator == nil {
		return fmt.Errorf("%w: pipeline: missing components", contract.ErrInvalidInput)
	}
	if src == nil || out.Valid == nil || out.Invalid == nil {
		return fmt.Errorf("%w: pipeline: missing source or outputs", contract.ErrInvalidInput)
	}
	return nil
}
