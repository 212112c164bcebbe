package delta

import (
	"fmt"
	"strings"
)

// NextTargetID 根据已使用的 id 计算区块的下一个编号：取同前缀 id 的最大数字后缀加一。
// 其他区块的 id 不参与计算；序号不落盘，每次由现有 id 推导。
// 后缀按十进制字符串比较与递增，长度不受整数位宽限制。
// research_thread 为单例，始终返回 RT。
func NextTargetID(section Section, existing []string) (string, error) {
	if !section.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSection, section)
	}
	if section.Singleton() {
		return ResearchThreadID, nil
	}

	highest := "0"
	for _, id := range existing {
		digits, ok := numericSuffix(section, id)
		if !ok {
			continue
		}
		digits = trimZeros(digits)
		if compareDecimal(digits, highest) > 0 {
			highest = digits
		}
	}
	return section.Prefix() + incrementDecimal(highest), nil
}

// trimZeros 去掉前导零，全零时返回 "0"
func trimZeros(digits string) string {
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "0"
	}
	return digits
}

// compareDecimal 比较两个无前导零的十进制串
func compareDecimal(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func incrementDecimal(digits string) string {
	buf := []byte(digits)
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] < '9' {
			buf[i]++
			return string(buf)
		}
		buf[i] = '0'
	}
	return "1" + string(buf)
}
