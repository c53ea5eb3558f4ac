package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpcclient "github.com/JoeShih716/go-limit-ledger/pkg/grpc"
	pb "github.com/JoeShih716/go-limit-ledger/pkg/ledgerpb"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "ledger gRPC address")
	accountID := flag.Int64("account", 1, "target account id")
	totalCount := flag.Int("n", 10000, "number of transactions")
	concurrency := flag.Int("c", 100, "concurrent requests")
	kind := flag.String("kind", "debit", "credit or debit")
	value := flag.Int64("value", 10, "value of each transaction")
	timeout := flag.Duration("timeout", 120*time.Second, "overall timeout")
	flag.Parse()

	zlog, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	// 只輸出 Error 以上，避免大量超額回應洗版
	conn, err := grpcclient.Dial(*addr,
		grpcclient.WithLogger(zlog.WithOptions(zap.IncreaseLevel(zap.ErrorLevel))),
		grpcclient.WithWaitForReady(),
	)
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()
	c := pb.NewLedgerServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		accepted atomic.Int64
		rejected atomic.Int64
		failed   atomic.Int64
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, *concurrency)
	desc := "load"
	startTime := time.Now()

	for i := 0; i < *totalCount; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := c.ApplyTransaction(ctx, &pb.ApplyTransactionRequest{
				AccountId:   *accountID,
				Kind:        *kind,
				Value:       pb.IntValue(*value),
				Description: &desc,
			})
			switch status.Code(err) {
			case codes.OK:
				accepted.Add(1)
			case codes.FailedPrecondition:
				rejected.Add(1)
			default:
				failed.Add(1)
				if idx%1000 == 0 {
					log.Printf("Transaction %d failed: %v", idx, err)
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	fmt.Printf("Completed %d requests in %v\n", *totalCount, elapsed)
	fmt.Printf("Accepted: %d, over limit: %d, failed: %d\n", accepted.Load(), rejected.Load(), failed.Load())
	fmt.Printf("TPS: %.2f\n", float64(*totalCount)/elapsed.Seconds())

	stmt, err := c.GetStatement(ctx, &pb.GetStatementRequest{AccountId: *accountID})
	if err != nil {
		log.Fatalf("get statement: %v", err)
	}
	fmt.Printf("Balance: %d (limit %d) as of %s\n", stmt.Balance.Total, stmt.Balance.Limit, stmt.Balance.AsOf.Format(time.RFC3339Nano))
	if stmt.Balance.Total < -stmt.Balance.Limit {
		log.Fatalf("balance %d is below -limit %d", stmt.Balance.Total, stmt.Balance.Limit)
	}
	for _, tran := range stmt.LastTransactions {
		fmt.Printf("  %s %6s %d %q\n", tran.PerformedAt.Format(time.RFC3339Nano), tran.Kind, tran.Value, tran.Description)
	}
}
