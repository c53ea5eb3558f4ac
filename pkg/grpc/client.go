package grpc

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/JoeShih716/go-limit-ledger/pkg/ledgerpb"
)

type dialConfig struct {
	logger        *zap.Logger
	keepaliveTime time.Duration
	waitForReady  bool
	dialOpts      []grpc.DialOption
}

// Option 調整 Dial 建立的連線
type Option func(*dialConfig)

// WithLogger 掛上 LoggingInterceptor
func WithLogger(logger *zap.Logger) Option {
	return func(c *dialConfig) {
		c.logger = logger
	}
}

// WithKeepalive 閒置多久後送出 Ping，0 代表關閉 keepalive
func WithKeepalive(d time.Duration) Option {
	return func(c *dialConfig) {
		c.keepaliveTime = d
	}
}

// WithWaitForReady 連線尚未就緒時呼叫會等待，而不是立刻回 Unavailable
func WithWaitForReady() Option {
	return func(c *dialConfig) {
		c.waitForReady = true
	}
}

// WithDialOptions 附加 gRPC 原生的連線選項，例如測試用的 WithContextDialer
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *dialConfig) {
		c.dialOpts = append(c.dialOpts, opts...)
	}
}

// Dial 建立通往帳本服務的客戶端連線
// 每次呼叫預設帶上 ledgerpb 的 JSON content-subtype，伺服器端以同名 codec 解碼
//
// grpc.NewClient 不會立刻連線，第一次呼叫時才建立 (Lazy connection)
func Dial(target string, opts ...Option) (*grpc.ClientConn, error) {
	cfg := &dialConfig{keepaliveTime: 10 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	callOpts := []grpc.CallOption{grpc.CallContentSubtype(ledgerpb.CodecName)}
	if cfg.waitForReady {
		callOpts = append(callOpts, grpc.WaitForReady(true))
	}
	// 內部服務走私有網路，不加密
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(callOpts...),
	}
	if cfg.keepaliveTime > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.keepaliveTime,
			Timeout:             time.Second,
			PermitWithoutStream: true,
		}))
	}
	if cfg.logger != nil {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(LoggingInterceptor(cfg.logger)))
	}
	dialOpts = append(dialOpts, cfg.dialOpts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client for %s: %w", target, err)
	}
	return conn, nil
}
