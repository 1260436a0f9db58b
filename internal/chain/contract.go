package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// 条件托管合约，finishEscrow 校验 sha256(preimage) == condition
const escrowABI = `[
	{"name":"createEscrow","type":"function","stateMutability":"payable","inputs":[
		{"name":"payee","type":"address"},
		{"name":"condition","type":"bytes32"},
		{"name":"finishAfter","type":"uint256"}
	],"outputs":[{"name":"id","type":"uint256"}]},
	{"name":"finishEscrow","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"id","type":"uint256"},
		{"name":"preimage","type":"bytes"}
	],"outputs":[]},
	{"anonymous":false,"name":"EscrowCreated","type":"event","inputs":[
		{"indexed":true,"name":"id","type":"uint256"},
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":true,"name":"payee","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"}
	]}
]`

const erc20ABI = `[
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"}
	],"outputs":[{"name":"","type":"uint256"}]}
]`

// Contract 合约 ABI 工具
type Contract struct {
	name string
	abi  abi.ABI
}

// NewContract 解析内置 ABI
func NewContract(name, definition string) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s ABI: %w", name, err)
	}
	return &Contract{name: name, abi: parsed}, nil
}

func mustContract(name, definition string) *Contract {
	c, err := NewContract(name, definition)
	if err != nil {
		panic(err)
	}
	return c
}

var (
	escrowContract = mustContract("escrow", escrowABI)
	erc20Contract  = mustContract("erc20", erc20ABI)
)

// Pack 编码调用数据
func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", c.name, method, err)
	}
	return data, nil
}

// Decode 按 4 字节选择器识别方法并解码参数，不属于本合约时返回空方法名
func (c *Contract) Decode(data []byte) (string, []interface{}, error) {
	if len(data) < 4 {
		return "", nil, nil
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return "", nil, nil
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return method.Name, nil, fmt.Errorf("unpack %s.%s: %w", c.name, method.Name, err)
	}
	return method.Name, args, nil
}

// EscrowID 从回执日志中取 EscrowCreated 的托管 id
func (c *Contract) EscrowID(receipt *types.Receipt, contract common.Address) (uint64, bool) {
	event := c.abi.Events["EscrowCreated"]
	for _, log := range receipt.Logs {
		if log.Address != contract || len(log.Topics) < 2 || log.Topics[0] != event.ID {
			continue
		}
		return new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64(), true
	}
	return 0, false
}

// UnpackUint 解码单个 uint256 返回值
func (c *Contract) UnpackUint(method string, data []byte) (*big.Int, error) {
	values, err := c.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s.%s result: %w", c.name, method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s.%s returned no value", c.name, method)
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s.%s returned %T", c.name, method, values[0])
	}
	return n, nil
}
