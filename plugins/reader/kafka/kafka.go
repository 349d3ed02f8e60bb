package kafka

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"logpipe/pkg/contract"
)

// Options: Kafka Source 选项。
type Options struct {
	Brokers   []string `json:"brokers"`
	Topic     string   `json:"topic"`
	Partition int32    `json:"partition"`
	ClientID  string   `json:"client_id,omitempty"`
	// Version: Kafka 协议版本（如 "2.8.0"）；为空使用 sarama 默认。
	Version string `json:"version,omitempty"`
	// TimeoutSeconds: 建连超时；<=0 默认 10 秒。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// IdleTimeoutMS: 未到高水位但持续无消息的等待上限，超时即连接失败；<=0 默认 10 秒。
	IdleTimeoutMS int `json:"idle_timeout_ms,omitempty"`
}

// Source 将分区内 [最早位点, Open 时高水位) 的消息体按序拼接为字节流。
type Source struct {
	brokers []string
	topic   string
	part    int32
	cfg     *sarama.Config
	idle    time.Duration
}

// New 校验选项并构造 Source（不建连）。
func New(opts *Options) (*Source, error) {
	if opts == nil || len(opts.Brokers) == 0 || strings.TrimSpace(opts.Topic) == "" {
		return nil, fmt.Errorf("%w: kafka: brokers and topic required", contract.ErrInvalidInput)
	}
	if opts.Partition < 0 {
		return nil, fmt.Errorf("%w: kafka: partition must be >= 0", contract.ErrInvalidInput)
	}
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	if opts.ClientID != "" {
		cfg.ClientID = opts.ClientID
	} else {
		cfg.ClientID = "logpipe"
	}
	if opts.Version != "" {
		v, err := sarama.ParseKafkaVersion(opts.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: kafka: %w", contract.ErrInvalidInput, err)
		}
		cfg.Version = v
	}
	to := 10 * time.Second
	if opts.TimeoutSeconds > 0 {
		to = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	cfg.Net.DialTimeout = to
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: kafka: %w", contract.ErrInvalidInput, err)
	}
	idle := 10 * time.Second
	if opts.IdleTimeoutMS > 0 {
		idle = time.Duration(opts.IdleTimeoutMS) * time.Millisecond
	}
	brokers := make([]string, 0, len(opts.Brokers))
	for _, b := range opts.Brokers {
		if t := strings.TrimSpace(b); t != "" {
			brokers = append(brokers, t)
		}
	}
	return &Source{brokers: brokers, topic: strings.TrimSpace(opts.Topic), part: opts.Partition, cfg: cfg, idle: idle}, nil
}

var (
	_ contract.Source = (*Source)(nil)
	_ contract.Named  = (*Source)(nil)
)

// StreamID 形如 kafka://topic/partition。
func (s *Source) StreamID() contract.StreamID {
	return contract.StreamID(fmt.Sprintf("kafka://%s/%d", s.topic, s.part))
}

// Open 读取当前位点范围并开始消费。
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(s.brokers, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: kafka client: %w", contract.ErrConnection, err)
	}
	oldest, err := client.GetOffset(s.topic, s.part, sarama.OffsetOldest)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: kafka oldest offset: %w", contract.ErrConnection, err)
	}
	newest, err := client.GetOffset(s.topic, s.part, sarama.OffsetNewest)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: kafka newest offset: %w", contract.ErrConnection, err)
	}
	if newest <= oldest {
		_ = client.Close()
		return io.NopCloser(strings.NewReader("")), nil
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: kafka consumer: %w", contract.ErrConnection, err)
	}
	pc, err := consumer.ConsumePartition(s.topic, s.part, oldest)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: kafka consume partition: %w", contract.ErrConnection, err)
	}
	ps := newPartitionStream(ctx, pc.Messages(), pc.Errors(), oldest, newest, s.idle)
	ps.closer = func() error {
		_ = pc.Close()
		_ = consumer.Close()
		return client.Close()
	}
	return ps, nil
}

// partitionStream 把消息通道适配为 io.Reader；读到 end 位点（不含）即 EOF。
type partitionStream struct {
	ctx    context.Context
	msgs   <-chan *sarama.ConsumerMessage
	errs   <-chan *sarama.ConsumerError
	next   int64
	end    int64
	idle   time.Duration
	cur    []byte
	closer func() error
}

func newPartitionStream(ctx context.Context, msgs <-chan *sarama.ConsumerMessage, errs <-chan *sarama.ConsumerError, from, end int64, idle time.Duration) *partitionStream {
	return &partitionStream{ctx: ctx, msgs: msgs, errs: errs, next: from, end: end, idle: idle}
}

func (p *partitionStream) Read(b []byte) (int, error) {
	for len(p.cur) == 0 {
		if p.next >= p.end {
			return 0, io.EOF
		}
		if err := p.fetch(); err != nil {
			return 0, err
		}
	}
	n := copy(b, p.cur)
	p.cur = p.cur[n:]
	return n, nil
}

func (p *partitionStream) fetch() error {
	t := time.NewTimer(p.idle)
	defer t.Stop()
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case msg, ok := <-p.msgs:
		if !ok {
			return fmt.Errorf("%w: kafka partition consumer closed at offset %d", contract.ErrConnection, p.next)
		}
		if msg.Offset >= p.end {
			p.next = p.end
			return nil
		}
		p.cur = msg.Value
		p.next = msg.Offset + 1
		return nil
	case cerr, ok := <-p.errs:
		if !ok {
			return fmt.Errorf("%w: kafka partition consumer closed at offset %d", contract.ErrConnection, p.next)
		}
		return fmt.Errorf("%w: %w", contract.ErrConnection, cerr)
	case <-t.C:
		// 未到高水位即停止是截断，交给会话重试
		return fmt.Errorf("%w: kafka idle at offset %d of %d", contract.ErrConnection, p.next, p.end)
	}
}

func (p *partitionStream) Close() error {
	if p.closer == nil {
		return nil
	}
	c := p.closer
	p.closer = nil
	return c()
}
