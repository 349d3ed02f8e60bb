package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"logpipe/pkg/contract"
)

// DefaultCommand: 远端默认执行的命令，其标准输出即日志字节流。
const DefaultCommand = "cat test.log"

// Options: SSH Source 选项。
type Options struct {
	// Addr: host[:port]，缺省端口 22。
	Addr string `json:"addr"`
	User string `json:"user"`
	// 认证：密码（明文或环境变量名）与私钥文件，至少提供一种。
	Password         string `json:"password,omitempty"`
	PasswordEnv      string `json:"password_env,omitempty"`
	KeyPath          string `json:"key_path,omitempty"`
	KeyPassphraseEnv string `json:"key_passphrase_env,omitempty"`
	// 主机校验：KnownHosts 文件路径；或显式 InsecureIgnoreHostKey 跳过校验。
	KnownHosts            string `json:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool   `json:"insecure_ignore_host_key,omitempty"`
	// Command: 远端命令；为空使用 DefaultCommand。
	Command string `json:"command,omitempty"`
	// TimeoutSeconds: 建连与握手超时；<=0 默认 30 秒。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Source 通过 SSH 在远端执行命令，以其标准输出作为输入流。
type Source struct {
	opts    Options
	addr    string
	command string
	timeout time.Duration
}

// New 校验选项并构造 Source（不建连）。
func New(opts *Options) (*Source, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: ssh: options required", contract.ErrInvalidInput)
	}
	o := *opts
	if strings.TrimSpace(o.Addr) == "" || strings.TrimSpace(o.User) == "" {
		return nil, fmt.Errorf("%w: ssh: addr and user required", contract.ErrInvalidInput)
	}
	if o.Password == "" && o.PasswordEnv == "" && o.KeyPath == "" {
		return nil, fmt.Errorf("%w: ssh: no auth method (password/password_env/key_path)", contract.ErrInvalidInput)
	}
	if o.KnownHosts == "" && !o.InsecureIgnoreHostKey {
		return nil, fmt.Errorf("%w: ssh: known_hosts required unless insecure_ignore_host_key", contract.ErrInvalidInput)
	}
	addr := strings.TrimSpace(o.Addr)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	cmd := strings.TrimSpace(o.Command)
	if cmd == "" {
		cmd = DefaultCommand
	}
	to := 30 * time.Second
	if o.TimeoutSeconds > 0 {
		to = time.Duration(o.TimeoutSeconds) * time.Second
	}
	return &Source{opts: o, addr: addr, command: cmd, timeout: to}, nil
}

var (
	_ contract.Source = (*Source)(nil)
	_ contract.Named  = (*Source)(nil)
)

// StreamID 形如 ssh://user@host:port。
func (s *Source) StreamID() contract.StreamID {
	return contract.StreamID("ssh://" + s.opts.User + "@" + s.addr)
}

func (s *Source) clientConfig() (*xssh.ClientConfig, error) {
	var auth []xssh.AuthMethod
	pass := s.opts.Password
	if pass == "" && s.opts.PasswordEnv != "" {
		pass = os.Getenv(s.opts.PasswordEnv)
	}
	if pass != "" {
		auth = append(auth, xssh.Password(pass))
	}
	if s.opts.KeyPath != "" {
		pem, err := os.ReadFile(s.opts.KeyPath)
		if err != nil {
			return nil, err
		}
		var signer xssh.Signer
		if env := s.opts.KeyPassphraseEnv; env != "" {
			signer, err = xssh.ParsePrivateKeyWithPassphrase(pem, []byte(os.Getenv(env)))
		} else {
			signer, err = xssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, xssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("%w: ssh: empty password and no key", contract.ErrInvalidInput)
	}
	var hostKey xssh.HostKeyCallback
	if s.opts.InsecureIgnoreHostKey {
		hostKey = xssh.InsecureIgnoreHostKey()
	} else {
		cb, err := knownhosts.New(s.opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKey = cb
	}
	return &xssh.ClientConfig{User: s.opts.User, Auth: auth, HostKeyCallback: hostKey, Timeout: s.timeout}, nil
}

// Open 建连、开会话并启动远端命令。所有失败归为 ErrConnection。
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	cfg, err := s.clientConfig()
	if err != nil {
		if errors.Is(err, contract.ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", contract.ErrConnection, err)
	}
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", contract.ErrConnection, s.addr, err)
	}
	// 握手阶段的截止时间，成功后清除
	_ = conn.SetDeadline(time.Now().Add(s.timeout))
	c, chans, reqs, err := xssh.NewClientConn(conn, s.addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: handshake %s: %w", contract.ErrConnection, s.addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := xssh.NewClient(c, chans, reqs)
	sess, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: new session: %w", contract.ErrConnection, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %w", contract.ErrConnection, err)
	}
	rs := &remoteStream{client: client, sess: sess, stdout: stdout, command: s.command}
	sess.Stderr = &rs.stderr
	if err := sess.Start(s.command); err != nil {
		_ = rs.Close()
		return nil, fmt.Errorf("%w: start %q: %w", contract.ErrConnection, s.command, err)
	}
	// ctx 取消时关闭连接，使阻塞中的 Read 返回
	rs.stop = context.AfterFunc(ctx, func() { _ = client.Close() })
	return rs, nil
}

// remoteStream: 远端命令的标准输出。读到 EOF 时检查退出码，非零视为连接失败。
type remoteStream struct {
	client  *xssh.Client
	sess    *xssh.Session
	stdout  io.Reader
	command string
	stderr  tailBuffer
	stop    func() bool
	waited  bool
	once    sync.Once
}

func (r *remoteStream) Read(p []byte) (int, error) {
	n, err := r.stdout.Read(p)
	if err == nil {
		return n, nil
	}
	if err == io.EOF {
		if r.waited {
			return n, io.EOF
		}
		r.waited = true
		if werr := r.sess.Wait(); werr != nil {
			msg := strings.TrimSpace(r.stderr.String())
			return n, fmt.Errorf("%w: remote command %q: %w (stderr: %s)", contract.ErrConnection, r.command, werr, msg)
		}
		return n, io.EOF
	}
	return n, fmt.Errorf("%w: read: %w", contract.ErrConnection, err)
}

// Close 释放会话与连接；输入侧的关闭错误不影响结果，忽略。
func (r *remoteStream) Close() error {
	r.once.Do(func() {
		if r.stop != nil {
			r.stop()
		}
		_ = r.sess.Close()
		_ = r.client.Close()
	})
	return nil
}

// tailBuffer 仅保留 stderr 的最后 4KiB，用于错误信息。
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

const tailMax = 4 * 1024

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - tailMax; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
