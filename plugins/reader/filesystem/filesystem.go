package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"logpipe/pkg/contract"
)

// Options 为文件系统 Source 的可选配置（最小必要）。
type Options struct {
	// Path: 输入文件路径；为空或 "-" 表示 STDIN。
	Path string `json:"path"`
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
}

// FileSystem 实现基于本地文件、命名管道与 STDIN 的 Source。
type FileSystem struct {
	path    string
	bufSize int
}

// New 创建 FileSystem Source。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	b := defaultBuf
	p := ""
	if opts != nil {
		if opts.BufSize > 0 {
			b = opts.BufSize
		}
		p = strings.TrimSpace(opts.Path)
	}
	return &FileSystem{path: p, bufSize: b}
}

var (
	_ contract.Source = (*FileSystem)(nil)
	_ contract.Named  = (*FileSystem)(nil)
)

// StreamID 返回规范化路径；STDIN 固定为 "stdin"。
func (r *FileSystem) StreamID() contract.StreamID {
	if r.isStdin() {
		return "stdin"
	}
	return contract.NormalizeStreamID(r.path)
}

func (r *FileSystem) isStdin() bool { return r.path == "" || r.path == "-" }

// Open 打开输入。仅接受常规文件与命名管道（含指向它们的符号链接）；目录等返回错误。
// STDIN 只能被完整消费一次，重试时后续尝试读到的是剩余内容。
func (r *FileSystem) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if r.isStdin() {
		// 统一缓冲策略：STDIN 也使用 bufio.Reader 封装；Close 不关闭进程 STDIN
		return newBufferedCloser(io.NopCloser(os.Stdin), r.bufSize), nil
	}
	// Stat 跟随符号链接
	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contract.ErrConnection, err)
	}
	mode := info.Mode()
	if !mode.IsRegular() && mode&os.ModeNamedPipe == 0 {
		return nil, fmt.Errorf("%w: %s is not a regular file or pipe", contract.ErrInvalidInput, r.path)
	}
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contract.ErrConnection, err)
	}
	return newBufferedCloser(f, r.bufSize), nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
