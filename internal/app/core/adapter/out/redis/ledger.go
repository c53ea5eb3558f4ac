package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
)

// 帳戶 key 以 hash tag 包住 id，cluster 模式下同帳戶的 key 落在同一個 slot
const (
	accountSetKey = "ledger:accounts"
	accountKeyFmt = "ledger:account:{%d}"
)

// apply 腳本回傳的狀態碼
const (
	statusApplied       = 0
	statusDuplicate     = 1
	statusNotFound      = -1
	statusLimitExceeded = -2
	statusOverflow      = -3
)

// applyScript 在 Redis 內原子地完成: 冪等檢查 -> 更新餘額 -> 額度檢查 -> 寫交易紀錄
//
// 數值一律以十進位字串比較，Lua number 是 double，超過 2^53 會失真
// performed_at 不早於帳戶上一筆 (last_at)，交易紀錄新到舊排列時時間不會倒退
//
// KEYS: 1 帳戶 hash, 2 交易 list, 3 ref_id -> balance_after
// ARGV: 1 ref_id, 2 kind, 3 value, 4 紀錄 JSON 前綴, 5 現在時間 (unix 微秒)
var applyScript = redis.NewScript(`
local function below(a, b)
  local na, nb = a:sub(1, 1) == '-', b:sub(1, 1) == '-'
  if na ~= nb then
    return na
  end
  if na then
    a, b = b:sub(2), a:sub(2)
  end
  if #a ~= #b then
    return #a < #b
  end
  return a < b
end

local acc = redis.call('HMGET', KEYS[1], 'limit', 'balance', 'last_at')
if not acc[1] then
  return {-1, '0', '0'}
end
local prior = redis.call('HGET', KEYS[3], ARGV[1])
if prior then
  return {1, acc[1], prior}
end
local delta = ARGV[3]
if ARGV[2] == 'debit' then
  delta = '-' .. ARGV[3]
end
local res = redis.pcall('HINCRBY', KEYS[1], 'balance', delta)
if type(res) == 'table' and res.err then
  return {-3, acc[1], acc[2]}
end
local after = redis.call('HGET', KEYS[1], 'balance')
if ARGV[2] == 'debit' then
  local floor = '0'
  if acc[1] ~= '0' then
    floor = '-' .. acc[1]
  end
  if below(after, floor) then
    redis.call('HINCRBY', KEYS[1], 'balance', ARGV[3])
    return {-2, acc[1], acc[2]}
  end
end
local at = ARGV[5]
if acc[3] and below(at, acc[3]) then
  at = acc[3]
end
redis.call('HSET', KEYS[1], 'last_at', at)
local seq = redis.call('HINCRBY', KEYS[1], 'seq', 1)
redis.call('HSET', KEYS[3], ARGV[1], after)
redis.call('LPUSH', KEYS[2], ARGV[4] .. '"seq":' .. seq .. ',"balance_after":' .. after .. ',"performed_at":' .. at .. '}')
return {0, acc[1], after}
`)

// recordPrefix 交易紀錄中由 Go 端決定的欄位，seq、balance_after 與 performed_at 由腳本補上
type recordPrefix struct {
	AccountID     int64                  `json:"account_id"`
	Value         int64                  `json:"value"`
	TransactionID string                 `json:"ref_id"`
	Description   string                 `json:"description"`
	Kind          domain.TransactionKind `json:"kind"`
}

// redisTransaction list 中一筆交易紀錄的完整樣貌，performed_at 存 unix 微秒
type redisTransaction struct {
	Sequence      uint64                 `json:"seq"`
	AccountID     int64                  `json:"account_id"`
	Value         int64                  `json:"value"`
	BalanceAfter  int64                  `json:"balance_after"`
	PerformedAt   int64                  `json:"performed_at"`
	TransactionID uuid.UUID              `json:"ref_id"`
	Description   string                 `json:"description"`
	Kind          domain.TransactionKind `json:"kind"`
}

func (r *redisTransaction) toDomain() domain.Transaction {
	return domain.Transaction{
		Sequence:      r.Sequence,
		AccountID:     r.AccountID,
		Value:         r.Value,
		BalanceAfter:  r.BalanceAfter,
		PerformedAt:   time.UnixMicro(r.PerformedAt).UTC(),
		TransactionID: r.TransactionID,
		Description:   r.Description,
		Kind:          r.Kind,
	}
}

func accountKey(id int64) string {
	return fmt.Sprintf(accountKeyFmt, id)
}

func transactionsKey(id int64) string {
	return accountKey(id) + ":transactions"
}

func refsKey(id int64) string {
	return accountKey(id) + ":refs"
}

type RedisLedger struct {
	client redis.UniversalClient
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisLedger(client redis.UniversalClient, logger *zap.Logger) *RedisLedger {
	return &RedisLedger{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Migrate 寫入開帳資料，已存在的帳戶不會被覆蓋
func (ledger *RedisLedger) Migrate(ctx context.Context, seed []*domain.Account) error {
	if len(seed) == 0 {
		return nil
	}
	_, err := ledger.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, acc := range seed {
			key := accountKey(acc.ID)
			pipe.HSetNX(ctx, key, "limit", acc.Limit)
			pipe.HSetNX(ctx, key, "balance", acc.Balance)
			pipe.SAdd(ctx, accountSetKey, acc.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}
	return nil
}

// Apply 以 Lua 腳本執行單筆交易，腳本在 Redis 內不會與其他指令交錯
func (ledger *RedisLedger) Apply(ctx context.Context, tran *domain.Transaction) (domain.ApplyResult, error) {
	prefix, err := json.Marshal(recordPrefix{
		AccountID:     tran.AccountID,
		Value:         tran.Value,
		TransactionID: tran.TransactionID.String(),
		Description:   tran.Description,
		Kind:          tran.Kind,
	})
	if err != nil {
		return domain.ApplyResult{}, fmt.Errorf("encode transaction: %w", err)
	}
	// 去掉結尾的 '}'，讓腳本接上 seq、balance_after 與 performed_at
	prefix = append(prefix[:len(prefix)-1], ',')

	keys := []string{accountKey(tran.AccountID), transactionsKey(tran.AccountID), refsKey(tran.AccountID)}
	reply, err := applyScript.Run(ctx, ledger.client, keys,
		tran.TransactionID.String(), tran.Kind.String(), tran.Value, string(prefix), ledger.now().UnixMicro()).Slice()
	if err != nil {
		return domain.ApplyResult{}, ledger.classify("apply", err)
	}

	status, limit, balance, err := parseApplyReply(reply)
	if err != nil {
		return domain.ApplyResult{}, ledger.classify("apply", err)
	}
	switch status {
	case statusApplied, statusDuplicate:
		return domain.ApplyResult{Limit: limit, Balance: balance}, nil
	case statusNotFound:
		return domain.ApplyResult{}, fmt.Errorf("account %d: %w", tran.AccountID, domain.ErrAccountNotFound)
	case statusLimitExceeded:
		return domain.ApplyResult{}, fmt.Errorf("debit %d from balance %d: %w", tran.Value, balance, domain.ErrLimitExceeded)
	case statusOverflow:
		// 與記憶體帳本一致: 扣帳下溢視為超額，入帳上溢視為輸入錯誤
		if tran.Kind == domain.TransactionKindDebit {
			return domain.ApplyResult{}, fmt.Errorf("debit %d underflows: %w", tran.Value, domain.ErrLimitExceeded)
		}
		return domain.ApplyResult{}, fmt.Errorf("credit %d overflows balance: %w", tran.Value, domain.ErrInvalidInput)
	}
	return domain.ApplyResult{}, fmt.Errorf("apply: unexpected script status %d", status)
}

// Statement 在 MULTI/EXEC 內同時讀餘額與最近 10 筆，兩者來自同一個時間點
func (ledger *RedisLedger) Statement(ctx context.Context, accountID int64) (domain.Statement, error) {
	var (
		accCmd  *redis.SliceCmd
		listCmd *redis.StringSliceCmd
	)
	_, err := ledger.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		accCmd = pipe.HMGet(ctx, accountKey(accountID), "limit", "balance")
		listCmd = pipe.LRange(ctx, transactionsKey(accountID), 0, domain.StatementSize-1)
		return nil
	})
	if err != nil {
		return domain.Statement{}, ledger.classify("statement", err)
	}

	limit, balance, found, err := parseAccount(accCmd.Val())
	if err != nil {
		return domain.Statement{}, ledger.classify("statement", err)
	}
	if !found {
		return domain.Statement{}, fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
	}

	entries := listCmd.Val()
	stmt := domain.Statement{
		Balance: domain.BalanceSnapshot{
			Total: balance,
			Limit: limit,
			AsOf:  ledger.now().UTC(),
		},
		LastTransactions: make([]domain.Transaction, 0, len(entries)),
	}
	for _, entry := range entries {
		var tran redisTransaction
		if err := json.Unmarshal([]byte(entry), &tran); err != nil {
			return domain.Statement{}, ledger.classify("statement", fmt.Errorf("decode transaction: %w", err))
		}
		stmt.LastTransactions = append(stmt.LastTransactions, tran.toDomain())
	}
	return stmt, nil
}

// LoadAllAccounts 載入所有帳戶
func (ledger *RedisLedger) LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error) {
	members, err := ledger.client.SMembers(ctx, accountSetKey).Result()
	if err != nil {
		return nil, ledger.classify("load accounts", err)
	}
	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, ledger.classify("load accounts", fmt.Errorf("account id %q: %w", member, err))
		}
		ids = append(ids, id)
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = ledger.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, accountKey(id), "limit", "balance")
		}
		return nil
	})
	if err != nil {
		return nil, ledger.classify("load accounts", err)
	}

	accounts := make(map[int64]*domain.Account, len(ids))
	for i, id := range ids {
		limit, balance, found, err := parseAccount(cmds[i].Val())
		if err != nil {
			return nil, ledger.classify("load accounts", err)
		}
		if found {
			accounts[id] = domain.NewAccount(id, limit, balance)
		}
	}
	return accounts, nil
}

// classify Redis 的錯誤都視為儲存層失敗，業務錯誤原樣回傳
func (ledger *RedisLedger) classify(op string, err error) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	ledger.logger.Warn("redis failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageFailure, op, err)
}

func parseApplyReply(reply []interface{}) (status, limit, balance int64, err error) {
	if len(reply) != 3 {
		return 0, 0, 0, fmt.Errorf("unexpected script reply %v", reply)
	}
	code, ok := reply[0].(int64)
	if !ok {
		return 0, 0, 0, fmt.Errorf("unexpected script status %v", reply[0])
	}
	if limit, err = toInt64(reply[1]); err != nil {
		return 0, 0, 0, err
	}
	if balance, err = toInt64(reply[2]); err != nil {
		return 0, 0, 0, err
	}
	return code, limit, balance, nil
}

func parseAccount(vals []interface{}) (limit, balance int64, found bool, err error) {
	if len(vals) != 2 || vals[0] == nil {
		return 0, 0, false, nil
	}
	if limit, err = toInt64(vals[0]); err != nil {
		return 0, 0, false, err
	}
	if balance, err = toInt64(vals[1]); err != nil {
		return 0, 0, false, err
	}
	return limit, balance, true, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected redis value %T", v)
}

var _ usecase.Ledger = (*RedisLedger)(nil)
