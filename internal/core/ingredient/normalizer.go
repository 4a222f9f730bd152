package ingredient

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"recipe-resolver/internal/pkg/common"
)

// Normalize 正規化原始食材清單
// trim + 小寫 + 去重；同義詞不在這裡處理（屬於比對階段，不屬於鍵推導）
func Normalize(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		name := strings.ToLower(strings.TrimSpace(item))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable ingredients", common.ErrInvalidQuery)
	}
	return out, nil
}

// CombinationKey 由正規化後的食材組合推導出確定性的快取鍵
// 與輸入順序、大小寫無關；不同組合間的碰撞視為可容忍的快取風險
func CombinationKey(normalized []string) string {
	sorted := make([]string, len(normalized))
	copy(sorted, normalized)
	sort.Strings(sorted)

	hash := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(hash[:])
}

// NormalizeAndKey 正規化並同時計算組合鍵
func NormalizeAndKey(raw []string) ([]string, string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return nil, "", err
	}
	return normalized, CombinationKey(normalized), nil
}
