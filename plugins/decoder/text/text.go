package text

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"logpipe/pkg/contract"
)

// Options: 解码器选项。
type Options struct {
	// Charset: 输入字符集（IANA 名称或别名，如 "utf-8"、"gbk"、"gb18030"、"latin1"）。
	// 为空或 utf-8 时使用严格 UTF-8 解码：非法序列直接报错。
	Charset string `json:"charset"`
}

// Factory 为每次尝试创建全新的有状态 Decoder。
type Factory struct {
	charset string
	enc     encoding.Encoding // nil 表示严格 UTF-8
}

// New 解析字符集并返回 Factory。未知字符集返回 ErrInvalidInput。
func New(opts *Options) (*Factory, error) {
	name := ""
	if opts != nil {
		name = strings.TrimSpace(opts.Charset)
	}
	if isUTF8(name) {
		return &Factory{charset: "utf-8"}, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: unsupported charset %q", contract.ErrInvalidInput, name)
	}
	return &Factory{charset: strings.ToLower(name), enc: enc}, nil
}

// Charset 返回规范化后的字符集名称。
func (f *Factory) Charset() string { return f.charset }

// NewDecoder 返回一个新的 Decoder 实例。
func (f *Factory) NewDecoder() contract.Decoder {
	if f.enc == nil {
		return &UTF8{}
	}
	return &Charset{t: f.enc.NewDecoder()}
}

func isUTF8(name string) bool {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// UTF8 为严格增量 UTF-8 解码器。
// 块尾最多 3 个字节的不完整序列被暂存，与下一块拼接后再解码。
type UTF8 struct {
	buf    []byte // 暂存尾部 + 当前块
	tail   int    // buf 前 tail 字节为上次残留
	offset int64  // 已消费字节数，用于错误定位
}

var _ contract.Decoder = (*UTF8)(nil)

// Feed 解码 chunk，返回可完整解码的文本。
func (d *UTF8) Feed(chunk []byte) (string, error) {
	if cap(d.buf) < d.tail+len(chunk) {
		nb := make([]byte, d.tail, len(chunk)+utf8.UTFMax-1)
		copy(nb, d.buf[:d.tail])
		d.buf = nb
	}
	d.buf = append(d.buf[:d.tail], chunk...)
	cut := len(d.buf) - incompleteTail(d.buf)
	if !utf8.Valid(d.buf[:cut]) {
		return "", fmt.Errorf("%w: invalid utf-8 sequence at byte %d", contract.ErrDecode, d.offset+int64(firstInvalid(d.buf[:cut])))
	}
	out := string(d.buf[:cut])
	d.offset += int64(cut)
	d.tail = copy(d.buf, d.buf[cut:])
	d.buf = d.buf[:d.tail]
	return out, nil
}

// Flush 在流结束时调用；残留不完整序列视为截断。
func (d *UTF8) Flush() (string, error) {
	if d.tail > 0 {
		return "", fmt.Errorf("%w: truncated utf-8 sequence (%d bytes) at end of stream", contract.ErrDecode, d.tail)
	}
	return "", nil
}

// incompleteTail 返回 b 末尾“合法但不完整”的多字节前缀长度（0..3）。
func incompleteTail(b []byte) int {
	for k := 1; k <= utf8.UTFMax-1 && k <= len(b); k++ {
		c := b[len(b)-k]
		if !utf8.RuneStart(c) {
			continue
		}
		if utf8.FullRune(b[len(b)-k:]) {
			return 0
		}
		return k
	}
	return 0
}

func firstInvalid(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return len(b)
}

// Charset 基于 x/text 的传统字符集解码器。
// 非法字节按 x/text 解码器的约定替换为 U+FFFD。
type Charset struct {
	t    transform.Transformer
	tail []byte
	dst  []byte
}

var _ contract.Decoder = (*Charset)(nil)

// Feed 解码 chunk；transform.ErrShortSrc 表示尾部序列不完整，留待下一块。
func (d *Charset) Feed(chunk []byte) (string, error) {
	src := append(d.tail, chunk...)
	d.tail = nil
	out, rest, err := d.transform(src, false)
	if err != nil {
		return "", err
	}
	if len(rest) > 0 {
		d.tail = append([]byte(nil), rest...)
	}
	return out, nil
}

// Flush 以 atEOF=true 处理残留字节。
func (d *Charset) Flush() (string, error) {
	if len(d.tail) == 0 {
		return "", nil
	}
	out, rest, err := d.transform(d.tail, true)
	d.tail = nil
	if err != nil {
		return "", err
	}
	if len(rest) > 0 {
		return "", fmt.Errorf("%w: truncated sequence (%d bytes) at end of stream", contract.ErrDecode, len(rest))
	}
	return out, nil
}

func (d *Charset) transform(src []byte, atEOF bool) (string, []byte, error) {
	if cap(d.dst) < 2*len(src)+utf8.UTFMax {
		d.dst = make([]byte, 2*len(src)+utf8.UTFMax)
	}
	d.dst = d.dst[:cap(d.dst)]
	var b strings.Builder
	for {
		nDst, nSrc, err := d.t.Transform(d.dst, src, atEOF)
		b.Write(d.dst[:nDst])
		src = src[nSrc:]
		switch {
		case err == nil:
			return b.String(), nil, nil
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				d.dst = make([]byte, 2*len(d.dst))
			}
		case errors.Is(err, transform.ErrShortSrc):
			return b.String(), src, nil
		default:
			return "", nil, fmt.Errorf("%w: %w", contract.ErrDecode, err)
		}
	}
}
