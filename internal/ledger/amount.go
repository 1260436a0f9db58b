package ledger

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits 按小数位换算为整数最小单位，多余精度向零截断
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", amount)
	}
	return amount.Shift(decimals).Truncate(0).BigInt(), nil
}

// FromBaseUnits 整数最小单位换算为十进制金额
func FromBaseUnits(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}

// ToDrops XRP 转 drops 字符串
func ToDrops(amount decimal.Decimal) (string, error) {
	units, err := ToBaseUnits(amount, 6)
	if err != nil {
		return "", err
	}
	return units.String(), nil
}

// FromDrops drops 字符串转 XRP
func FromDrops(drops string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(drops)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid drops %q: %w", drops, err)
	}
	return d.Shift(-6), nil
}
