package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// DefaultLogDir: 默认日志目录（相对工作目录）。
const DefaultLogDir = "logs"

// Logger 为最小结构化日志器：单行 JSON 写入轮转文件；sink 为空时写 stderr。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	mu     sync.Mutex
}

// NewLogger 写入默认目录 logs/，10MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerIn(DefaultLogDir, corrID, level)
}

// NewLoggerIn 指定日志目录；dir 为空时仅写 stderr。
func NewLoggerIn(dir, corrID, level string) *Logger {
	return NewLoggerWith(RotateOptions{Dir: dir}, corrID, level)
}

// NewLoggerWith 按轮转选项构造；o.Dir 为空时仅写 stderr。
func NewLoggerWith(o RotateOptions, corrID, level string) *Logger {
	l := &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level))}
	if strings.TrimSpace(o.Dir) != "" {
		l.sink = NewRotatingFile(o)
	}
	return l
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string { return l.corrID }

// Close 关闭底层文件。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event 为标准事件结构。
type Event struct {
	Level   string            `json:"level"`
	TS      string            `json:"ts"`
	CorrID  string            `json:"corr_id"`
	Comp    string            `json:"comp"`
	Stage   string            `json:"stage"` // start|finish|error|warn
	Code    string            `json:"code,omitempty"`
	DurMS   int64             `json:"dur_ms,omitempty"`
	Count   int64             `json:"count,omitempty"`
	Stream  string            `json:"stream,omitempty"`
	Attempt string            `json:"attempt,omitempty"`
	Msg     string            `json:"msg"`
	KV      map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 stream/attempt 的 start。
func (l *Logger) StartWith(comp, msg, stream, attempt string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Stream: stream, Attempt: attempt, Msg: msg})
	return &Timer{l: l, comp: comp, stream: stream, attempt: attempt, t0: time.Now()}
}

// StartWithKV 记录带 stream/attempt 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, stream, attempt string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Stream: stream, Attempt: attempt, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, stream: stream, attempt: attempt, t0: time.Now()}
}

// Error 记录 error 事件（不采样）。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 stream/attempt。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, stream, attempt string) {
	l.ErrorWithKV(comp, code, msg, durSince, stream, attempt, nil)
}

// ErrorWithKV 支持附带键值对。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, stream, attempt string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, Stream: stream, Attempt: attempt, KV: kv})
}

// WarnWith 记录可恢复的异常（例如将要重试）。
func (l *Logger) WarnWith(comp, code, msg, stream, attempt string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Code: code, Msg: msg, Stream: stream, Attempt: attempt, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l       *Logger
	comp    string
	stream  string
	attempt string
	t0      time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Stream: t.stream, Attempt: t.attempt, Msg: msg})
}

// Since 返回起点（供 ErrorWith 的 durSince 使用）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, stream, attempt string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", Stream: stream, Attempt: attempt, Msg: msg, KV: kv})
}
