package oplog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUTC() *Validator { return New(&Options{Location: time.UTC}) }

// UT-VAL-01: 有效记录格式化
func TestValidateValid(t *testing.T) {
	v := newUTC()
	o := v.Validate("1700000000000|alice|login")
	require.True(t, o.Valid, "reason=%s", o.Reason)
	assert.Equal(t, "2023-11-14 22:13:20", o.Timestamp)
	assert.Equal(t, "alice", o.Operator)
	assert.Equal(t, "login", o.Operation)
	assert.Equal(t, "2023-11-14 22:13:20,\"login\"\n", o.Line)
}

// 末尾空字段仍为 3 个字段
func TestValidateTrailingEmptyField(t *testing.T) {
	o := newUTC().Validate("1700000000000|alice|")
	require.True(t, o.Valid, "reason=%s", o.Reason)
	assert.Equal(t, "2023-11-14 22:13:20,\"\"\n", o.Line)
}

// 转义分隔符在字段内还原，毫秒部分被舍弃
func TestValidateEscapedSeparators(t *testing.T) {
	o := newUTC().Validate(`1700000000999|a\|b|x\;y "q"`)
	require.True(t, o.Valid, "reason=%s", o.Reason)
	assert.Equal(t, "a|b", o.Operator)
	assert.Equal(t, `2023-11-14 22:13:20,"x;y "q""`+"\n", o.Line)
}

// UT-VAL-02: 失败原因及优先级
func TestValidateReasons(t *testing.T) {
	long := strings.Repeat("字", DefaultMaxFieldLen+1)
	cases := []struct {
		name   string
		in     string
		reason string
	}{
		{"字段过少", "1700000000000|alice", "字段数量不符，应为 3 个字段，实际为 2 个字段"},
		{"字段过多", "1|a|b|c", "字段数量不符，应为 3 个字段，实际为 4 个字段"},
		{"空记录", "", "字段数量不符，应为 3 个字段，实际为 1 个字段"},
		{"字段数优先于长度", "1700000000000|" + long, "字段数量不符，应为 3 个字段，实际为 2 个字段"},
		{"时间戳非数字", "abc|bob|logout", "字段 1（时间戳）无效：无法解析为整数毫秒时间戳"},
		{"时间戳为空", "|bob|logout", "字段 1（时间戳）无效：无法解析为整数毫秒时间戳"},
		{"时间戳溢出", "99999999999999999999|bob|logout", "字段 1（时间戳）无效：无法解析为整数毫秒时间戳"},
		{"时间戳优先于长度", "x|" + long + "|op", "字段 1（时间戳）无效：无法解析为整数毫秒时间戳"},
		{"操作人超长", "1|" + long + "|op", "字段 2（操作人）无效：长度超过 32767 字符"},
		{"操作人优先于内容", "1|" + long + "|" + long, "字段 2（操作人）无效：长度超过 32767 字符"},
		{"操作内容超长", "1|bob|" + long, "字段 3（操作内容）无效：长度超过 32767 字符"},
	}
	v := newUTC()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := v.Validate(tc.in)
			require.False(t, o.Valid)
			assert.Equal(t, tc.reason, o.Reason)
			assert.Equal(t, "原始记录: "+tc.in+"\n无效原因: "+tc.reason+"\n------------------\n", o.Line)
		})
	}
}

// 长度按字符而非字节计数：恰好上限的多字节字段有效
func TestValidateLengthCountsRunes(t *testing.T) {
	v := New(&Options{MaxFieldLen: 4, Location: time.UTC})
	assert.True(t, v.Validate("0|张三李四|登录").Valid)
	o := v.Validate("0|张三李四王|登录")
	assert.False(t, o.Valid)
	assert.Equal(t, "字段 2（操作人）无效：长度超过 4 字符", o.Reason)
}

func TestFormatInvalidUnknown(t *testing.T) {
	assert.Equal(t, "原始记录: r\n无效原因: 未知原因\n------------------\n", FormatInvalid("r", ""))
}

func TestNewDefaults(t *testing.T) {
	v := New(nil)
	assert.Equal(t, DefaultMaxFieldLen, v.maxLen)
	assert.Equal(t, time.Local, v.loc)
}
