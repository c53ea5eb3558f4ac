package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
)

// ledgerRequest 請求包裝channel，讓呼叫端可以等待結果
type ledgerRequest struct {
	ctx context.Context
	// tran 為 nil 代表查詢對帳單
	tran   *domain.Transaction
	result chan ledgerResponse
}

type ledgerResponse struct {
	applied   domain.ApplyResult
	statement domain.Statement
	err       error
}

// partition 單一帳戶的輸送帶，由一個 goroutine 獨佔處理
type partition struct {
	state    *accountState
	requests chan *ledgerRequest
}

// LMAXLedger 每個帳戶一個 single writer goroutine
// 同一帳戶的交易與對帳單依進入輸送帶的順序處理，不同帳戶平行處理
type LMAXLedger struct {
	partitions map[int64]*partition
	now        func() time.Time
	// Pool 減少 GC 壓力
	requestPool sync.Pool

	startOnce sync.Once
	started   chan struct{}
	wg        sync.WaitGroup
	// done 所有 partition 都已停止
	done chan struct{}
}

// NewLMAXLedger 建立一個新的 LMAXLedger 實例，需呼叫 Start 才會開始處理
//
// 參數:
//
//	accounts: 初始帳戶資料 Map (會被複製)
//	opts: WAL 目錄、時間來源
//
// 回傳:
//
//	*LMAXLedger: LMAXLedger 實例
//	error: 初始化錯誤
func NewLMAXLedger(accounts map[int64]*domain.Account, opts ...Option) (*LMAXLedger, error) {
	o := newOptions(opts)
	// 在啟動前先恢復資料
	states, err := newAccountStates(accounts, o)
	if err != nil {
		return nil, err
	}

	ledger := &LMAXLedger{
		partitions: make(map[int64]*partition, len(states)),
		now:        o.now,
		started:    make(chan struct{}),
		done:       make(chan struct{}),
		requestPool: sync.Pool{
			New: func() interface{} {
				return &ledgerRequest{
					result: make(chan ledgerResponse, 1),
				}
			},
		},
	}
	for id, st := range states {
		ledger.partitions[id] = &partition{
			state:    st,
			requests: make(chan *ledgerRequest, 256),
		}
	}
	return ledger, nil
}

// Start 啟動核心引擎 (非同步)，ctx 結束時把剩下的請求處理完再停止
func (l *LMAXLedger) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		for _, p := range l.partitions {
			l.wg.Add(1)
			go l.run(ctx, p)
		}
		go func() {
			l.wg.Wait()
			close(l.done)
		}()
		close(l.started)
	})
}

// Done 所有 partition 停止後關閉
func (l *LMAXLedger) Done() <-chan struct{} {
	return l.done
}

func (l *LMAXLedger) run(ctx context.Context, p *partition) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的請求處理完
			l.drain(p)
			return
		case req := <-p.requests:
			l.process(p, req)
		}
	}
}

func (l *LMAXLedger) drain(p *partition) {
	for {
		select {
		case req := <-p.requests:
			l.process(p, req)
		default:
			return
		}
	}
}

// process 處理單筆請求並回傳結果
func (l *LMAXLedger) process(p *partition, req *ledgerRequest) {
	// 呼叫端已放棄，直接跳過，不產生任何副作用
	if err := req.ctx.Err(); err != nil {
		req.result <- ledgerResponse{err: err}
		return
	}

	if req.tran == nil {
		req.result <- ledgerResponse{statement: p.state.statement(l.now())}
		return
	}

	applied, err := p.state.apply(req.tran, l.now())
	req.result <- ledgerResponse{applied: applied, err: err}
}

// Apply 把交易放入帳戶輸送帶並等待結果
//
// Apply(等待) -> Channel -> Partition Loop -> WAL -> State Update -> Result Channel -> Apply(收到結果)
func (l *LMAXLedger) Apply(ctx context.Context, tran *domain.Transaction) (domain.ApplyResult, error) {
	resp, err := l.submit(ctx, tran.AccountID, tran)
	if err != nil {
		return domain.ApplyResult{}, err
	}
	return resp.applied, resp.err
}

// Statement 對帳單也走同一條輸送帶，因此不會與交易交錯
func (l *LMAXLedger) Statement(ctx context.Context, accountID int64) (domain.Statement, error) {
	resp, err := l.submit(ctx, accountID, nil)
	if err != nil {
		return domain.Statement{}, err
	}
	return resp.statement, resp.err
}

func (l *LMAXLedger) submit(ctx context.Context, accountID int64, tran *domain.Transaction) (ledgerResponse, error) {
	p, ok := l.partitions[accountID]
	if !ok {
		return ledgerResponse{}, fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
	}
	select {
	case <-l.started:
	default:
		return ledgerResponse{}, fmt.Errorf("%w: not started", domain.ErrLedgerClosed)
	}

	// 1. 放入輸送帶 (使用 sync.Pool 減少 GC)
	req := l.requestPool.Get().(*ledgerRequest)
	req.ctx = ctx
	req.tran = tran

	select {
	case p.requests <- req:
	case <-ctx.Done():
		l.release(req)
		return ledgerResponse{}, ctx.Err()
	case <-l.done:
		l.release(req)
		return ledgerResponse{}, domain.ErrLedgerClosed
	}

	// 2. 已進入輸送帶就一定會被處理 (或在停止前 drain 掉)，等待結果
	// 過期的請求在處理時會被跳過，所以等待時間有上限
	select {
	case resp := <-req.result:
		l.release(req)
		return resp, nil
	case <-l.done:
		select {
		case resp := <-req.result:
			l.release(req)
			return resp, nil
		default:
			return ledgerResponse{}, domain.ErrLedgerClosed
		}
	}
}

func (l *LMAXLedger) release(req *ledgerRequest) {
	req.ctx = nil
	req.tran = nil
	l.requestPool.Put(req)
}

// LoadAllAccounts 回傳帳戶快照，只能在 Start 之前或 Done 之後呼叫
func (l *LMAXLedger) LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error) {
	out := make(map[int64]*domain.Account, len(l.partitions))
	for id, p := range l.partitions {
		snapshot := p.state.account
		out[id] = &snapshot
	}
	return out, nil
}

// Close 關閉所有 WAL，必須在 Done 之後呼叫
func (l *LMAXLedger) Close() error {
	states := make(map[int64]*accountState, len(l.partitions))
	for id, p := range l.partitions {
		states[id] = p.state
	}
	return closeStates(states)
}

var _ usecase.Ledger = (*LMAXLedger)(nil)
