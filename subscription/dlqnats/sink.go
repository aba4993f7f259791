// Package dlqnats 提供基于 NATS JetStream 的死信槽
package dlqnats

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"esrun/errors"
	"esrun/logging"
	"esrun/subscription"
)

// Config configures the JetStream dead letter sink.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	Logger        logging.Logger
	Conn          *nats.Conn

	// 可选：流参数
	MaxBytes int64 // 0 表示不设置
	MaxAge   time.Duration
	Replicas int // 0 表示默认
}

// Sink implements subscription.IDeadLetterSink on top of NATS JetStream.
//
// 死信按 <prefix><group> 主题发布，流保留策略为 limits：
// 死信必须留存到人工处理，不能像工作队列那样消费即删。
type Sink struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	mu      sync.Mutex
	running bool
}

// NewSink builds a JetStream dead letter sink.
func NewSink(cfg Config) *Sink {
	if cfg.Stream == "" {
		cfg.Stream = "ESRUN_DLQ"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "dlq."
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 14 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.String("component", "sink.dlqnats"))
	}
	return &Sink{cfg: cfg, logger: cfg.Logger}
}

// Start 建立连接并确保死信流存在
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.ensureConnection(); err != nil {
		return errors.Wrap(errors.KindInfrastructure, "connect nats", err)
	}
	if err := s.ensureStream(); err != nil {
		return errors.Wrap(errors.KindInfrastructure, "ensure dead letter stream", err)
	}
	s.running = true
	return nil
}

// Close 关闭连接（仅当连接由本槽自建）
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.ownsConn && s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.js = nil
	return nil
}

// Publish 投递一封死信
func (s *Sink) Publish(ctx context.Context, letter subscription.DeadLetter) error {
	s.mu.Lock()
	js := s.js
	running := s.running
	s.mu.Unlock()
	if !running || js == nil {
		return errors.New(errors.KindInfrastructure, "dead letter sink not running")
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return errors.Wrap(errors.KindIntegrity, "marshal dead letter", err)
	}
	subject := s.cfg.SubjectPrefix + letter.Group
	if _, err := js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return errors.Wrap(errors.KindInfrastructure, "publish dead letter", err).
			With("subject", subject).
			With("stream_id", letter.Event.StreamID)
	}
	return nil
}

func (s *Sink) ensureConnection() error {
	if s.conn != nil && s.js != nil {
		return nil
	}
	if s.cfg.Conn != nil {
		s.conn = s.cfg.Conn
	} else {
		if s.cfg.URL == "" {
			s.cfg.URL = nats.DefaultURL
		}
		conn, err := nats.Connect(s.cfg.URL)
		if err != nil {
			return err
		}
		s.conn = conn
		s.ownsConn = true
	}
	js, err := s.conn.JetStream()
	if err != nil {
		return err
	}
	s.js = js
	return nil
}

func (s *Sink) ensureStream() error {
	_, err := s.js.StreamInfo(s.cfg.Stream)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "stream not found") && err != nats.ErrStreamNotFound {
		return err
	}
	sc := &nats.StreamConfig{
		Name:      s.cfg.Stream,
		Subjects:  []string{s.cfg.SubjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
		MaxAge:    s.cfg.MaxAge,
	}
	if s.cfg.MaxBytes > 0 {
		sc.MaxBytes = s.cfg.MaxBytes
	}
	if s.cfg.Replicas > 0 {
		sc.Replicas = s.cfg.Replicas
	}
	_, err = s.js.AddStream(sc)
	return err
}

// Ensure interface compliance
var _ subscription.IDeadLetterSink = (*Sink)(nil)
