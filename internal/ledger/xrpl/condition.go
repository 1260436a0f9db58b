package xrpl

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// PREIMAGE-SHA-256 crypto-condition 的 DER 前后缀，原像固定 32 字节
const (
	conditionPrefix   = "A0258020"
	conditionSuffix   = "810120"
	fulfillmentPrefix = "A0228020"
)

// EncodeCondition SHA-256 十六进制哈希编码为账本条件
func EncodeCondition(hash string) (string, error) {
	h := strings.ToUpper(hash)
	if strings.HasPrefix(h, conditionPrefix) {
		return h, nil
	}
	if err := checkHex32(h); err != nil {
		return "", errors.Wrap(err, "condition hash")
	}
	return conditionPrefix + h + conditionSuffix, nil
}

// EncodeFulfillment 原像十六进制编码为账本履约
func EncodeFulfillment(preimage string) (string, error) {
	p := strings.ToUpper(preimage)
	if strings.HasPrefix(p, fulfillmentPrefix) {
		return p, nil
	}
	if err := checkHex32(p); err != nil {
		return "", errors.Wrap(err, "fulfillment preimage")
	}
	return fulfillmentPrefix + p, nil
}

// DecodeCondition 账本条件还原为哈希，非该格式原样返回
func DecodeCondition(condition string) string {
	c := strings.ToUpper(condition)
	if strings.HasPrefix(c, conditionPrefix) && strings.HasSuffix(c, conditionSuffix) && len(c) == len(conditionPrefix)+64+len(conditionSuffix) {
		return c[len(conditionPrefix) : len(conditionPrefix)+64]
	}
	return c
}

func checkHex32(s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return errors.Errorf("expected 32 bytes, got %d", len(b))
	}
	return nil
}
