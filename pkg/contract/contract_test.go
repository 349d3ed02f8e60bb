package contract

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// TestNormalizeStreamID 验证路径规范化逻辑。
func TestNormalizeStreamID(t *testing.T) {
	wpath := filepath.Join("a", "b", "c")
	basicCases := map[string]string{
		wpath:      "a/b/c",
		"./x/../y": "y",
		"":         ".",
	}
	for in, want := range basicCases {
		got := NormalizeStreamID(in)
		if string(got) != want {
			t.Fatalf("基础测试 %s -> %s, 预期 %s", in, got, want)
		}
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		// 反斜杠转换
		{"Windows路径", "C:\\logs\\test.log", "C:/logs/test.log"},
		{"相对路径反斜杠", "var\\log\\ops.log", "var/log/ops.log"},

		// path.Clean 功能
		{"清理多余斜杠", "path//to///test.log", "path/to/test.log"},
		{"清理当前目录", "path/./to/./test.log", "path/to/test.log"},
		{"处理父目录", "path/to/../from/test.log", "path/from/test.log"},

		// 边界情况
		{"单个点", ".", "."},
		{"双点", "..", ".."},
		{"根路径", "/", "/"},
		{"Windows根", "C:\\", "C:"},

		{"混合分隔符", "C:\\logs/remote\\today/test.log", "C:/logs/remote/today/test.log"},
		{"中文路径", "日志\\远端/测试.log", "日志/远端/测试.log"},
		{"Unix绝对路径", "/home/user/../ops/test.log", "/home/ops/test.log"},
		{"仅分隔符", "\\\\\\///", "/"},
		{"复杂父目录", "a\\b\\c\\..\\..\\..\\..\\d", "../d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeStreamID(tt.input)
			if string(result) != tt.expected {
				t.Errorf("NormalizeStreamID(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

// BenchmarkNormalizeStreamID 性能基准测试
func BenchmarkNormalizeStreamID(b *testing.B) {
	testPaths := []string{
		"C:\\logs\\remote\\test.log",
		"var/log/../../../tmp/test.log",
		"path//to///many////slashes/test.log",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range testPaths {
			NormalizeStreamID(p)
		}
	}
}

// TestSentinelsDistinct 哨兵错误互不相等，且包装后仍可识别。
func TestSentinelsDistinct(t *testing.T) {
	all := []error{ErrDecode, ErrOversizedRecord, ErrConnection, ErrSinkWrite, ErrInvalidInput, ErrPathInvalid}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Fatalf("哨兵 %v 与 %v 不应相等", a, b)
			}
		}
		wrapped := fmt.Errorf("ctx: %w", a)
		if !errors.Is(wrapped, a) {
			t.Fatalf("包装后无法识别 %v", a)
		}
	}
}
