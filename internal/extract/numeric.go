package extract

import (
	"strconv"
	"strings"
)

var amountCleaner = strings.NewReplacer(",", "", "¥", "", "￥", "", " ", "", " ", "")

// ParseAmount 数值强转
// 去掉千分位逗号与货币符号，括号记负，失败返回 (0, false) 由调用方按零处理
func ParseAmount(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		return parseAmountString(n)
	default:
		return 0, false
	}
}

func parseAmountString(s string) (float64, bool) {
	s = amountCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") && len(s) > 2 {
		s = "-" + s[1:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
