package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/pkg/contract"
	"logpipe/plugins/decoder/text"
	"logpipe/plugins/splitter/escape"
	"logpipe/plugins/validator/oplog"
)

// 通用装配 ----------------------------------------------------

func newComps(t *testing.T) Components {
	t.Helper()
	f, err := text.New(nil)
	require.NoError(t, err)
	return Components{
		Decoder:   f.NewDecoder(),
		Splitter:  escape.New(),
		Validator: oplog.New(&oplog.Options{Location: time.UTC}),
	}
}

func runString(t *testing.T, input string, set Settings) (Stats, string, string, error) {
	t.Helper()
	var valid, invalid bytes.Buffer
	st, err := Run(context.Background(), newComps(t), set, strings.NewReader(input), Outputs{Valid: &valid, Invalid: &invalid}, nil)
	return st, valid.String(), invalid.String(), err
}

func invalidBlock(record, reason string) string {
	return "原始记录: " + record + "\n无效原因: " + reason + "\n------------------\n"
}

// UT-PIP-01: 场景 A，两条合法记录
func TestScenarioValidRecords(t *testing.T) {
	st, valid, invalid, err := runString(t, "1700000000000|alice|login;1700000000100|bob|logout;", Settings{})
	require.NoError(t, err)
	assert.Equal(t, "2023-11-14 22:13:20,\"login\"\n2023-11-14 22:13:20,\"logout\"\n", valid)
	assert.Empty(t, invalid)
	assert.Equal(t, Done, st.State)
	assert.Equal(t, 2, st.Records)
	assert.Equal(t, 2, st.Valid)
	assert.Equal(t, 0, st.Invalid)
}

// UT-PIP-02: 场景 B，时间戳无法解析
func TestScenarioBadTimestamp(t *testing.T) {
	_, valid, invalid, err := runString(t, "abc|bob|logout;", Settings{})
	require.NoError(t, err)
	assert.Empty(t, valid)
	assert.Equal(t, invalidBlock("abc|bob|logout", "字段 1（时间戳）无效：无法解析为整数毫秒时间戳"), invalid)
}

// UT-PIP-03: 场景 C，字段数不符
func TestScenarioFieldCount(t *testing.T) {
	_, _, invalid, err := runString(t, "1700000000000|alice;", Settings{})
	require.NoError(t, err)
	assert.Equal(t, invalidBlock("1700000000000|alice", "字段数量不符，应为 3 个字段，实际为 2 个字段"), invalid)
}

// UT-PIP-04: 场景 D，字段超长
func TestScenarioFieldTooLong(t *testing.T) {
	long := strings.Repeat("x", 32768)
	rec := "1700000000000|alice|" + long
	_, valid, invalid, err := runString(t, rec+";", Settings{})
	require.NoError(t, err)
	assert.Empty(t, valid)
	assert.Equal(t, invalidBlock(rec, "字段 3（操作内容）无效：长度超过 32767 字符"), invalid)

	rec = "1700000000000|" + long + "|op"
	_, _, invalid, err = runString(t, rec+";", Settings{})
	require.NoError(t, err)
	assert.Contains(t, invalid, "字段 2（操作人）无效：长度超过 32767 字符")
}

// 结尾无分隔符的记录在收尾阶段处理；空输入正常结束
func TestUnterminatedTailAndEmptyInput(t *testing.T) {
	st, valid, _, err := runString(t, "1700000000000|a|x;1700000001000|b|y", Settings{})
	require.NoError(t, err)
	assert.Equal(t, "2023-11-14 22:13:20,\"x\"\n2023-11-14 22:13:21,\"y\"\n", valid)
	assert.Equal(t, 2, st.Records)

	st, valid, invalid, err := runString(t, "", Settings{})
	require.NoError(t, err)
	assert.Equal(t, Done, st.State)
	assert.Empty(t, valid)
	assert.Empty(t, invalid)
	assert.Equal(t, 0, st.Batches)
}

// 转义的分隔符留在记录内，字段中去掉一层转义
func TestEscapedSeparators(t *testing.T) {
	_, valid, invalid, err := runString(t, `1700000000000|al\|ice|a\;b;`, Settings{})
	require.NoError(t, err)
	assert.Empty(t, invalid)
	assert.Equal(t, "2023-11-14 22:13:20,\"a;b\"\n", valid)
}

func genRecords(k int) (string, []string) {
	var in strings.Builder
	want := make([]string, 0, k)
	for i := 0; i < k; i++ {
		// 含多字节字符，跨块时可能被截断
		op := fmt.Sprintf("操作-%d-é", i)
		fmt.Fprintf(&in, "%d|用户%d|%s;", int64(1700000000000)+int64(i)*1000, i, op)
		want = append(want, op)
	}
	return in.String(), want
}

// UT-PIP-05: 大量小块 + 频繁切分，输出条数与顺序不变
func TestOrderingAcrossManySmallChunks(t *testing.T) {
	in, ops := genRecords(500)
	st, valid, invalid, err := runString(t, in, Settings{ReadChunkSize: 7, MaxBufferSize: 64, IOBufferSize: 128})
	require.NoError(t, err)
	assert.Empty(t, invalid)
	lines := strings.Split(strings.TrimSuffix(valid, "\n"), "\n")
	require.Len(t, lines, len(ops))
	for i, l := range lines {
		require.True(t, strings.HasSuffix(l, ",\""+ops[i]+"\""), "line %d: %s", i, l)
	}
	assert.Equal(t, 500, st.Valid)
	assert.Greater(t, st.Batches, 10)
	assert.Greater(t, st.Flushes, int64(1))
}

// UT-PIP-06: 输出与读块大小无关
func TestChunkSizeInvariance(t *testing.T) {
	in, _ := genRecords(40)
	in += "bad|记录;1700000000000|x;" + "1700000000000|尾|无分隔"
	_, wantValid, wantInvalid, err := runString(t, in, Settings{})
	require.NoError(t, err)
	for _, size := range []int{1, 2, 3, 4, 5, 13, 64, 1013} {
		for _, ceiling := range []int{48, 100, 0} {
			_, v, iv, err := runString(t, in, Settings{ReadChunkSize: size, MaxBufferSize: ceiling})
			require.NoError(t, err, "size=%d ceiling=%d", size, ceiling)
			require.Equal(t, wantValid, v, "size=%d ceiling=%d", size, ceiling)
			require.Equal(t, wantInvalid, iv, "size=%d ceiling=%d", size, ceiling)
		}
	}
}

// 读取端每次只返回 1 字节
func TestOneByteReader(t *testing.T) {
	in, ops := genRecords(20)
	var valid, invalid bytes.Buffer
	st, err := Run(context.Background(), newComps(t), Settings{MaxBufferSize: 64}, iotest.OneByteReader(strings.NewReader(in)), Outputs{Valid: &valid, Invalid: &invalid}, nil)
	require.NoError(t, err)
	assert.Equal(t, len(ops), st.Valid)
	assert.Equal(t, int64(len(in)), st.Bytes)
}

// UT-PIP-07: 超过上限仍无分隔符
func TestOversizedRecord(t *testing.T) {
	st, _, _, err := runString(t, strings.Repeat("a", 100), Settings{ReadChunkSize: 10, MaxBufferSize: 16})
	require.ErrorIs(t, err, contract.ErrOversizedRecord)
	assert.Equal(t, Failed, st.State)
}

// UT-PIP-08: 非法 UTF-8，缓冲中的输出不落盘
func TestDecodeErrorDiscardsBuffered(t *testing.T) {
	in := "1700000000000|a|x;\xff\xfe;"
	st, valid, _, err := runString(t, in, Settings{})
	require.ErrorIs(t, err, contract.ErrDecode)
	assert.Equal(t, Failed, st.State)
	assert.Empty(t, valid)

	// 末尾截断的多字节序列
	_, _, _, err = runString(t, "1700000000000|a|x;\xe4\xb8", Settings{})
	require.ErrorIs(t, err, contract.ErrDecode)
}

// 已落盘的内容在失败后保留
func TestFailureKeepsFlushedOutput(t *testing.T) {
	in := "1700000000000|a|x;1700000000000|b|y;\xff"
	var valid, invalid bytes.Buffer
	_, err := Run(context.Background(), newComps(t), Settings{ReadChunkSize: 18, MaxBufferSize: 1, IOBufferSize: 1},
		strings.NewReader(in), Outputs{Valid: &valid, Invalid: &invalid}, nil)
	require.ErrorIs(t, err, contract.ErrDecode)
	assert.Equal(t, "2023-11-14 22:13:20,\"x\"\n2023-11-14 22:13:20,\"y\"\n", valid.String())
}

type failingWriter struct{ err error }

func (w failingWriter) Write(p []byte) (int, error) { return 0, w.err }

// UT-PIP-09: 写出失败
func TestSinkWriteError(t *testing.T) {
	var invalid bytes.Buffer
	st, err := Run(context.Background(), newComps(t), Settings{IOBufferSize: 1},
		strings.NewReader("1700000000000|a|x;"), Outputs{Valid: failingWriter{errors.New("disk full")}, Invalid: &invalid}, nil)
	require.ErrorIs(t, err, contract.ErrSinkWrite)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, Failed, st.State)

	// 收尾冲刷失败
	_, err = Run(context.Background(), newComps(t), Settings{},
		strings.NewReader("x;"), Outputs{Valid: &invalid, Invalid: failingWriter{errors.New("eio")}}, nil)
	require.ErrorIs(t, err, contract.ErrSinkWrite)
}

// UT-PIP-10: 读取失败归为连接错误
func TestReadErrorIsConnection(t *testing.T) {
	src := io.MultiReader(strings.NewReader("1700000000000|a|x;"), iotest.ErrReader(errors.New("reset by peer")))
	var valid, invalid bytes.Buffer
	st, err := Run(context.Background(), newComps(t), Settings{}, src, Outputs{Valid: &valid, Invalid: &invalid}, nil)
	require.ErrorIs(t, err, contract.ErrConnection)
	assert.Contains(t, err.Error(), "reset by peer")
	assert.Equal(t, Failed, st.State)
	assert.Empty(t, valid.String())

	// 已带连接哨兵的错误不重复包装
	wrapped := fmt.Errorf("%w: ssh exit 1", contract.ErrConnection)
	_, err = Run(context.Background(), newComps(t), Settings{}, iotest.ErrReader(wrapped), Outputs{Valid: &valid, Invalid: &invalid}, nil)
	require.ErrorIs(t, err, contract.ErrConnection)
	assert.Equal(t, 1, strings.Count(err.Error(), contract.ErrConnection.Error()))
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var valid, invalid bytes.Buffer
	st, err := Run(ctx, newComps(t), Settings{}, strings.NewReader("x;"), Outputs{Valid: &valid, Invalid: &invalid}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, st.State)
}

func TestSanity(t *testing.T) {
	var w bytes.Buffer
	_, err := Run(context.Background(), Components{}, Settings{}, strings.NewReader(""), Outputs{Valid: &w, Invalid: &w}, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = Run(context.Background(), newComps(t), Settings{}, nil, Outputs{}, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// gateValidator 阻塞在 release 上，并记录并发处理数
type gateValidator struct {
	inner   contract.Validator
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	once    sync.Once
	started chan struct{}
}

func (g *gateValidator) Validate(r string) contract.Outcome {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.inner.Validate(r)
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// UT-PIP-11: 背压，处理未完成时生产者最多领先一个批次
func TestBackpressureSingleOutstandingTask(t *testing.T) {
	in, ops := genRecords(200)
	src := &countingReader{r: strings.NewReader(in)}
	gv := &gateValidator{inner: oplog.New(&oplog.Options{Location: time.UTC}), release: make(chan struct{}), started: make(chan struct{})}
	comp := newComps(t)
	comp.Validator = gv

	var valid, invalid bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), comp, Settings{ReadChunkSize: 16, MaxBufferSize: 64}, src, Outputs{Valid: &valid, Invalid: &invalid}, nil)
		done <- err
	}()
	<-gv.started
	time.Sleep(30 * time.Millisecond)
	first := src.n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, first, src.n.Load(), "生产者应被阻塞")
	assert.Less(t, first, int64(len(in)))

	close(gv.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), gv.peak.Load())
	assert.Equal(t, len(ops), strings.Count(valid.String(), "\n"))
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Streaming: "streaming", Draining: "draining", Done: "done", Failed: "failed", State(99): "unknown"} {
		assert.Equal(t, want, s.String())
	}
}
