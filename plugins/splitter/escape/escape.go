package escape

import (
	"strings"

	"logpipe/pkg/contract"
)

// 记录语法：记录以 ';' 结尾，字段以 '|' 分隔，'\' 为唯一转义符。
// 分隔符前连续反斜杠个数为偶数（含 0）时才是边界；奇数表示该分隔符被转义。
const (
	RecordSep byte = ';'
	FieldSep  byte = '|'
	Escape    byte = '\\'
)

// Splitter 按未转义的 ';' 切分解码文本。无状态，可重复使用。
type Splitter struct{}

// New 创建 Splitter。
func New() *Splitter { return &Splitter{} }

var _ contract.Splitter = (*Splitter)(nil)

// Split 返回完整记录（不含分隔符，保持原始转义）与最后一个边界之后的尾部。
// 文本恰好以边界结尾时尾部为空；没有任何边界时整段文本作为尾部返回。
func (s *Splitter) Split(text string) ([]string, string) {
	cuts := Boundaries(text, RecordSep)
	if len(cuts) == 0 {
		return nil, text
	}
	records := make([]string, 0, len(cuts))
	from := 0
	for _, c := range cuts {
		records = append(records, text[from:c])
		from = c + 1
	}
	return records, text[from:]
}

// Boundaries 返回 text 中所有未转义 sep 的字节下标（升序）。
// 分隔符均为 ASCII，UTF-8 续字节不会与之相等，按字节扫描即可。
func Boundaries(text string, sep byte) []int {
	var cuts []int
	run := 0 // 当前连续反斜杠个数
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case Escape:
			run++
			continue
		case sep:
			if run%2 == 0 {
				cuts = append(cuts, i)
			}
		}
		run = 0
	}
	return cuts
}

// SplitFields 按未转义的 '|' 切分记录，保留空字段（包括末尾空字段），并对每个字段去转义。
func SplitFields(record string) []string {
	cuts := Boundaries(record, FieldSep)
	fields := make([]string, 0, len(cuts)+1)
	from := 0
	for _, c := range cuts {
		fields = append(fields, Unescape(record[from:c]))
		from = c + 1
	}
	return append(fields, Unescape(record[from:]))
}

// Unescape 去掉紧邻被转义分隔符（'|' 或 ';'）前的那一个反斜杠；其余反斜杠原样保留。
func Unescape(field string) string {
	if strings.IndexByte(field, Escape) < 0 {
		return field
	}
	var b strings.Builder
	b.Grow(len(field))
	for i := 0; i < len(field); {
		if field[i] != Escape {
			b.WriteByte(field[i])
			i++
			continue
		}
		j := i
		for j < len(field) && field[j] == Escape {
			j++
		}
		run := j - i
		if j < len(field) && (field[j] == FieldSep || field[j] == RecordSep) && run%2 == 1 {
			run--
		}
		b.WriteString(field[i : i+run])
		i = j
	}
	return b.String()
}
