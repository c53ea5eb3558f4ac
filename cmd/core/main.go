package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-limit-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-limit-ledger/internal/app/core/adapter/in/http"
	memory_adapter "github.com/JoeShih716/go-limit-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-limit-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-limit-ledger/internal/app/core/adapter/out/postgres"
	redis_adapter "github.com/JoeShih716/go-limit-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/config"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-limit-ledger/pkg/ledgerpb"
	"github.com/JoeShih716/go-limit-ledger/pkg/logger"
	"github.com/JoeShih716/go-limit-ledger/pkg/mysql"
	"github.com/JoeShih716/go-limit-ledger/pkg/postgres"
	"github.com/JoeShih716/go-limit-ledger/pkg/redis"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited with error", zap.Error(err))
	}
	zlog.Info("server exited")
}

func run(cfg config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化帳本 (Driven Adapter)，並寫入開帳資料
	ledger, closeLedger, err := openLedger(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("open %s ledger: %w", cfg.Ledger.Engine, err)
	}
	defer func() {
		if err := closeLedger(); err != nil {
			zlog.Error("close ledger", zap.Error(err))
		}
	}()

	// 3. 初始化 UseCase (載入帳戶清單)
	coreUseCase, err := usecase.NewCoreUseCase(ctx, ledger,
		usecase.WithLogger(zlog),
		usecase.WithRetry(cfg.Ledger.Retry))
	if err != nil {
		return err
	}

	// LMAX 的 sequencer 要在所有請求結束後才停，不跟著訊號的 ctx
	if lmax, ok := ledger.(*memory_adapter.LMAXLedger); ok {
		lmaxCtx, cancelLMAX := context.WithCancel(context.Background())
		lmax.Start(lmaxCtx)
		defer func() {
			cancelLMAX()
			<-lmax.Done()
		}()
	}
	zlog.Info("ledger ready",
		zap.String("engine", string(cfg.Ledger.Engine)),
		zap.Int("accounts", len(cfg.Accounts)))

	// 4. 初始化 Driving Adapters
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      http_adapter.NewRouter(http_adapter.NewHandler(coreUseCase, zlog), zlog),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpc_adapter.UnaryServerInterceptor(zlog)))
	ledgerpb.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(coreUseCase))
	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	// 5. 啟動並等待結束訊號 (Graceful Shutdown)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info("starting http server", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		zlog.Info("starting grpc server", zap.String("addr", cfg.GRPC.Addr))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})
	return g.Wait()
}

// openLedger 依設定建立帳本，回傳的 close 會釋放底層連線或 WAL
func openLedger(ctx context.Context, cfg config.Config, zlog *zap.Logger) (usecase.Ledger, func() error, error) {
	seed := cfg.SeedAccounts()

	switch cfg.Ledger.Engine {
	case config.EngineMemoryMutex, config.EngineMemoryLMAX:
		accounts := make(map[int64]*domain.Account, len(seed))
		for _, acc := range seed {
			accounts[acc.ID] = acc
		}
		opts := []memory_adapter.Option{memory_adapter.WithWALDir(cfg.Ledger.WALDir)}
		if cfg.Ledger.Engine == config.EngineMemoryLMAX {
			ledger, err := memory_adapter.NewLMAXLedger(accounts, opts...)
			if err != nil {
				return nil, nil, err
			}
			return ledger, ledger.Close, nil
		}
		ledger, err := memory_adapter.NewMutexLedger(accounts, opts...)
		if err != nil {
			return nil, nil, err
		}
		return ledger, ledger.Close, nil

	case config.EngineMySQL:
		client, err := mysql.NewClient(cfg.MySQL, zlog)
		if err != nil {
			return nil, nil, err
		}
		ledger := mysql_adapter.NewMySQLLedger(client, zlog)
		if err := ledger.Migrate(ctx, seed); err != nil {
			client.Close()
			return nil, nil, err
		}
		return ledger, client.Close, nil

	case config.EnginePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres, zlog)
		if err != nil {
			return nil, nil, err
		}
		ledger := postgres_adapter.NewPostgresLedger(pool, zlog)
		if err := ledger.Migrate(ctx, seed); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return ledger, func() error { pool.Close(); return nil }, nil

	case config.EngineRedis:
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		ledger := redis_adapter.NewRedisLedger(client, zlog)
		if err := ledger.Migrate(ctx, seed); err != nil {
			client.Close()
			return nil, nil, err
		}
		return ledger, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown ledger engine %q", cfg.Ledger.Engine)
}

