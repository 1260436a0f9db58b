package xrpl

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/logger"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// rippleEpoch 账本时间从 2000-01-01 起算
const rippleEpoch = 946684800

// 业务引用写入 Memo，查账时按 MemoType 识别
const (
	referenceMemoType = "fundledger/ref"
	lookupPageSize    = 200
	lookupMaxPages    = 5
)

// Options 网关参数
type Options struct {
	NativeAsset   string
	SubmitTimeout time.Duration
	PollInterval  time.Duration
}

// Gateway 通过 rippled 提交与查询交易
type Gateway struct {
	client *Client
	opts   Options

	mu        sync.RWMutex
	addresses map[string]string // 密钥 -> 地址
}

var _ ledger.Gateway = (*Gateway)(nil)

// NewGateway 创建 XRPL 网关
func NewGateway(client *Client, opts Options) *Gateway {
	if opts.NativeAsset == "" {
		opts.NativeAsset = "XRP"
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Gateway{client: client, opts: opts, addresses: map[string]string{}}
}

// AddressOf 由密钥推导账户地址，结果缓存
func (g *Gateway) AddressOf(ctx context.Context, secret string) (string, error) {
	g.mu.RLock()
	addr, ok := g.addresses[secret]
	g.mu.RUnlock()
	if ok {
		return addr, nil
	}

	var result struct {
		AccountID string `json:"account_id"`
	}
	if err := g.client.Call(ctx, "wallet_propose", map[string]interface{}{"seed": secret}, &result); err != nil {
		return "", errors.Wrap(err, "derive account from secret")
	}

	g.mu.Lock()
	g.addresses[secret] = result.AccountID
	g.mu.Unlock()
	return result.AccountID, nil
}

func (g *Gateway) CreateEscrow(ctx context.Context, req ledger.CreateEscrowRequest) (*ledger.Receipt, error) {
	owner, err := g.AddressOf(ctx, req.OwnerKey)
	if err != nil {
		return nil, err
	}
	drops, err := ledger.ToDrops(req.Amount)
	if err != nil {
		return nil, err
	}
	condition, err := EncodeCondition(req.Condition)
	if err != nil {
		return nil, err
	}

	tx := map[string]interface{}{
		"TransactionType": "EscrowCreate",
		"Account":         owner,
		"Destination":     req.Destination,
		"Amount":          drops,
		"Condition":       condition,
	}
	if !req.FinishAfter.IsZero() {
		tx["FinishAfter"] = toRippleTime(req.FinishAfter)
	}
	return g.submitAndWait(ctx, tx, req.OwnerKey)
}

func (g *Gateway) FinishEscrow(ctx context.Context, req ledger.FinishEscrowRequest) (*ledger.Receipt, error) {
	releaser, err := g.AddressOf(ctx, req.ReleaserKey)
	if err != nil {
		return nil, err
	}
	condition, err := EncodeCondition(req.Condition)
	if err != nil {
		return nil, err
	}
	fulfillment, err := EncodeFulfillment(req.Fulfillment)
	if err != nil {
		return nil, err
	}

	tx := map[string]interface{}{
		"TransactionType": "EscrowFinish",
		"Account":         releaser,
		"Owner":           req.Owner,
		"OfferSequence":   req.Sequence,
		"Condition":       condition,
		"Fulfillment":     fulfillment,
	}
	withReference(tx, req.Reference)
	return g.submitAndWait(ctx, tx, req.ReleaserKey)
}

func (g *Gateway) SendPayment(ctx context.Context, req ledger.PaymentRequest) (*ledger.Receipt, error) {
	sender, err := g.AddressOf(ctx, req.SenderKey)
	if err != nil {
		return nil, err
	}
	amount, err := g.encodeAmount(req.Amount, req.Asset)
	if err != nil {
		return nil, err
	}

	tx := map[string]interface{}{
		"TransactionType": "Payment",
		"Account":         sender,
		"Destination":     req.Destination,
		"Amount":          amount,
	}
	withReference(tx, req.Reference)
	return g.submitAndWait(ctx, tx, req.SenderKey)
}

type txResult struct {
	Hash            string          `json:"hash"`
	Validated       bool            `json:"validated"`
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Amount          json.RawMessage `json:"Amount"`
	Sequence        uint64          `json:"Sequence"`
	Condition       string          `json:"Condition"`
	Meta            struct {
		TransactionResult string          `json:"TransactionResult"`
		DeliveredAmount   json.RawMessage `json:"delivered_amount"`
	} `json:"meta"`
}

func (g *Gateway) VerifyTransaction(ctx context.Context, txHash string) (*ledger.Transaction, error) {
	var result txResult
	if err := g.client.Call(ctx, "tx", map[string]interface{}{"transaction": txHash}, &result); err != nil {
		if rpcErrorCode(err) == "txnNotFound" {
			return nil, ledger.ErrNotFound
		}
		return nil, errors.Wrapf(err, "lookup transaction %s", txHash)
	}

	tx := &ledger.Transaction{
		Hash:        result.Hash,
		Verified:    result.Validated,
		Success:     result.Meta.TransactionResult == "tesSUCCESS",
		Type:        ledger.ParseTxType(result.TransactionType),
		Account:     result.Account,
		Destination: result.Destination,
		ResultCode:  result.Meta.TransactionResult,
		Sequence:    result.Sequence,
		Condition:   DecodeCondition(result.Condition),
	}
	if tx.Hash == "" {
		tx.Hash = txHash
	}

	raw := result.Amount
	if len(result.Meta.DeliveredAmount) > 0 && tx.Type == ledger.TxTypePayment {
		raw = result.Meta.DeliveredAmount
	}
	if len(raw) > 0 {
		amount, asset, err := g.decodeAmount(raw)
		if err != nil {
			return nil, err
		}
		tx.Amount = amount
		tx.Asset = asset
	}
	return tx, nil
}

type memo struct {
	Memo struct {
		MemoType string `json:"MemoType"`
		MemoData string `json:"MemoData"`
	} `json:"Memo"`
}

func hexUpper(s string) string {
	return strings.ToUpper(hex.EncodeToString([]byte(s)))
}

func withReference(tx map[string]interface{}, reference string) {
	if reference == "" {
		return
	}
	var m memo
	m.Memo.MemoType = hexUpper(referenceMemoType)
	m.Memo.MemoData = hexUpper(reference)
	tx["Memos"] = []memo{m}
}

func referenceOf(memos []memo) string {
	for _, m := range memos {
		if !strings.EqualFold(m.Memo.MemoType, hexUpper(referenceMemoType)) {
			continue
		}
		data, err := hex.DecodeString(m.Memo.MemoData)
		if err == nil {
			return string(data)
		}
	}
	return ""
}

type accountTxEntry struct {
	Hash      string `json:"hash"`
	Validated bool   `json:"validated"`
	Tx        *struct {
		Hash  string `json:"hash"`
		Memos []memo `json:"Memos"`
	} `json:"tx"`
	TxJSON *struct {
		Memos []memo `json:"Memos"`
	} `json:"tx_json"`
}

func (e accountTxEntry) hashAndMemos() (string, []memo) {
	switch {
	case e.Tx != nil:
		return e.Tx.Hash, e.Tx.Memos
	case e.TxJSON != nil:
		return e.Hash, e.TxJSON.Memos
	}
	return e.Hash, nil
}

// FindTransaction 在账户最近的已验证交易中按 Memo 引用查找
func (g *Gateway) FindTransaction(ctx context.Context, account, reference string) (*ledger.Transaction, error) {
	if reference == "" {
		return nil, ledger.ErrNotFound
	}

	var marker interface{}
	for page := 0; page < lookupMaxPages; page++ {
		var result struct {
			Transactions []accountTxEntry `json:"transactions"`
			Marker       interface{}      `json:"marker"`
		}
		params := map[string]interface{}{
			"account":          account,
			"ledger_index_min": -1,
			"ledger_index_max": -1,
			"limit":            lookupPageSize,
		}
		if marker != nil {
			params["marker"] = marker
		}
		if err := g.client.Call(ctx, "account_tx", params, &result); err != nil {
			if rpcErrorCode(err) == "actNotFound" {
				return nil, ledger.ErrNotFound
			}
			return nil, errors.Wrapf(err, "account_tx %s", account)
		}

		for _, entry := range result.Transactions {
			hash, memos := entry.hashAndMemos()
			if !entry.Validated || hash == "" || referenceOf(memos) != reference {
				continue
			}
			tx, err := g.VerifyTransaction(ctx, hash)
			if err != nil {
				return nil, err
			}
			tx.Reference = reference
			return tx, nil
		}

		if result.Marker == nil {
			break
		}
		marker = result.Marker
	}
	return nil, ledger.ErrNotFound
}

type accountLine struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Limit    string `json:"limit"`
}

func (g *Gateway) CheckTrustline(ctx context.Context, address string, asset ledger.Asset) (*ledger.Trustline, error) {
	if asset.IsNative() {
		return &ledger.Trustline{Exists: true}, nil
	}
	line, err := g.findLine(ctx, address, asset)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return &ledger.Trustline{}, nil
	}

	balance, _ := decimal.NewFromString(line.Balance)
	limit, _ := decimal.NewFromString(line.Limit)
	return &ledger.Trustline{Exists: true, Balance: balance, Limit: limit}, nil
}

func (g *Gateway) GetBalance(ctx context.Context, address string, asset ledger.Asset) (decimal.Decimal, error) {
	if !asset.IsNative() {
		line, err := g.findLine(ctx, address, asset)
		if err != nil || line == nil {
			return decimal.Zero, err
		}
		balance, err := decimal.NewFromString(line.Balance)
		return balance, errors.Wrap(err, "parse trust line balance")
	}

	var result struct {
		AccountData struct {
			Balance string `json:"Balance"`
		} `json:"account_data"`
	}
	params := map[string]interface{}{"account": address, "ledger_index": "validated"}
	if err := g.client.Call(ctx, "account_info", params, &result); err != nil {
		if rpcErrorCode(err) == "actNotFound" {
			return decimal.Zero, nil
		}
		return decimal.Zero, errors.Wrapf(err, "account_info %s", address)
	}
	return ledger.FromDrops(result.AccountData.Balance)
}

func (g *Gateway) findLine(ctx context.Context, address string, asset ledger.Asset) (*accountLine, error) {
	var result struct {
		Lines []accountLine `json:"lines"`
	}
	params := map[string]interface{}{"account": address, "peer": asset.Issuer, "ledger_index": "validated"}
	if err := g.client.Call(ctx, "account_lines", params, &result); err != nil {
		if rpcErrorCode(err) == "actNotFound" {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "account_lines %s", address)
	}

	currency := encodeCurrency(asset.Code)
	for i := range result.Lines {
		if strings.EqualFold(result.Lines[i].Currency, currency) && result.Lines[i].Account == asset.Issuer {
			return &result.Lines[i], nil
		}
	}
	return nil, nil
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash     string `json:"hash"`
		Sequence uint64 `json:"Sequence"`
	} `json:"tx_json"`
}

// submitAndWait 签名提交，并轮询直到交易进入已验证账本
func (g *Gateway) submitAndWait(ctx context.Context, tx map[string]interface{}, secret string) (*ledger.Receipt, error) {
	var result submitResult
	params := map[string]interface{}{"tx_json": tx, "secret": secret}
	if err := g.client.Call(ctx, "submit", params, &result); err != nil {
		return nil, errors.Wrapf(err, "submit %s", tx["TransactionType"])
	}

	// tem/tef/tel 不会进入账本
	code := result.EngineResult
	if code != "tesSUCCESS" && !strings.HasPrefix(code, "ter") && !strings.HasPrefix(code, "tec") {
		return nil, ledger.Rejected(code, result.EngineResultMessage)
	}

	receipt := &ledger.Receipt{TxHash: result.TxJSON.Hash, Sequence: result.TxJSON.Sequence}
	final, err := g.waitValidated(ctx, receipt.TxHash)
	if err != nil {
		return nil, err
	}
	if !final.Success {
		return nil, ledger.Rejected(final.ResultCode, "")
	}

	logger.Debug("xrpl %s validated: %s", tx["TransactionType"], receipt.TxHash)
	return receipt, nil
}

func (g *Gateway) waitValidated(ctx context.Context, hash string) (*ledger.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SubmitTimeout)
	defer cancel()

	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()

	for {
		tx, err := g.VerifyTransaction(ctx, hash)
		switch {
		case err == nil && tx.Verified:
			return tx, nil
		case err != nil && !errors.Is(err, ledger.ErrNotFound):
			logger.Warn("xrpl poll %s: %v", hash, err)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ledger.ErrUnreachable, "transaction %s not validated: %v", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

func (g *Gateway) encodeAmount(amount decimal.Decimal, asset ledger.Asset) (interface{}, error) {
	if asset.IsNative() {
		return ledger.ToDrops(amount)
	}
	return issuedAmount{Currency: encodeCurrency(asset.Code), Issuer: asset.Issuer, Value: amount.String()}, nil
}

func (g *Gateway) decodeAmount(raw json.RawMessage) (decimal.Decimal, ledger.Asset, error) {
	var drops string
	if err := json.Unmarshal(raw, &drops); err == nil {
		amount, err := ledger.FromDrops(drops)
		return amount, ledger.Asset{Code: g.opts.NativeAsset}, err
	}

	var issued issuedAmount
	if err := json.Unmarshal(raw, &issued); err != nil {
		return decimal.Zero, ledger.Asset{}, errors.Wrap(err, "decode amount")
	}
	amount, err := decimal.NewFromString(issued.Value)
	if err != nil {
		return decimal.Zero, ledger.Asset{}, errors.Wrap(err, "decode issued value")
	}
	return amount, ledger.Asset{Code: decodeCurrency(issued.Currency), Issuer: issued.Issuer}, nil
}

// encodeCurrency 三字符代码原样使用，更长的代码编码为 40 位十六进制
func encodeCurrency(code string) string {
	if len(code) == 3 {
		return code
	}
	b := make([]byte, 20)
	copy(b, code)
	return strings.ToUpper(hex.EncodeToString(b))
}

func decodeCurrency(currency string) string {
	if len(currency) != 40 {
		return currency
	}
	b, err := hex.DecodeString(currency)
	if err != nil {
		return currency
	}
	return strings.TrimRight(string(b), "\x00")
}

func toRippleTime(t time.Time) int64 {
	return t.Unix() - rippleEpoch
}
