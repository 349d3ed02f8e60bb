package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"logpipe/pkg/contract"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	t.Run("reader-fs", func(t *testing.T) {
		src, err := Reader["fs"](json.RawMessage(`{"path":"in.log"}`))
		if err != nil {
			t.Fatalf("reader: %v", err)
		}
		if n, ok := src.(contract.Named); !ok || n.StreamID() != "in.log" {
			t.Fatalf("fs reader 应实现 Named")
		}
		if _, err := Reader["fs"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("reader 未对未知字段报错")
		}
	})
	t.Run("reader-ssh", func(t *testing.T) {
		if _, err := Reader["ssh"](json.RawMessage(`{"addr":"h","user":"u","password":"p","insecure_ignore_host_key":true}`)); err != nil {
			t.Fatalf("ssh: %v", err)
		}
		if _, err := Reader["ssh"](json.RawMessage(`{}`)); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("ssh 缺少地址应报 ErrInvalidInput: %v", err)
		}
	})
	t.Run("reader-kafka", func(t *testing.T) {
		if _, err := Reader["kafka"](json.RawMessage(`{"brokers":["127.0.0.1:9092"],"topic":"ops"}`)); err != nil {
			t.Fatalf("kafka: %v", err)
		}
		if _, err := Reader["kafka"](json.RawMessage(`{"topic":"ops"}`)); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("kafka 缺少 brokers 应报 ErrInvalidInput: %v", err)
		}
	})
	t.Run("reader-flaky", func(t *testing.T) {
		if _, err := Reader["flaky"](json.RawMessage(`{"fail_times":2,"inline":"a;"}`)); err != nil {
			t.Fatalf("flaky: %v", err)
		}
		if _, err := Reader["flaky"](json.RawMessage(`{"fail_times":-1}`)); err == nil {
			t.Fatalf("flaky 负数应报错")
		}
	})
	t.Run("decoder", func(t *testing.T) {
		f, err := Decoder["text"](json.RawMessage(`{"charset":"gbk"}`))
		if err != nil {
			t.Fatalf("decoder: %v", err)
		}
		if f.NewDecoder() == f.NewDecoder() {
			t.Fatalf("每次应返回新的解码器")
		}
		if _, err := Decoder["text"](json.RawMessage(`{"charset":"no-such"}`)); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("未知字符集应报错: %v", err)
		}
	})
	t.Run("writer", func(t *testing.T) {
		tmp := t.TempDir()
		raw := json.RawMessage([]byte(fmt.Sprintf(`{"output_dir":%q}`, tmp)))
		if _, err := Writer["fs"](raw); err != nil {
			t.Fatalf("writer: %v", err)
		}
		bad := json.RawMessage([]byte(fmt.Sprintf(`{"output_dir":%q,"x":1}`, tmp)))
		if _, err := Writer["fs"](bad); err == nil {
			t.Fatalf("writer 未对未知字段报错")
		}
	})
}

func TestNames(t *testing.T) {
	if got := Names(Reader); !reflect.DeepEqual(got, []string{"flaky", "fs", "kafka", "ssh"}) {
		t.Fatalf("names: %v", got)
	}
}
