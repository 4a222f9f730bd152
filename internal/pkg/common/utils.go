package common

import (
	"github.com/google/uuid"
)

// GenerateUUID 生成 UUID
func GenerateUUID() string {
	return uuid.New().String()
}

// FormatIngredientList 將食材列表格式化為提示詞用的字串
func FormatIngredientList(ingredients []string) string {
	out := ""
	for _, ing := range ingredients {
		out += "- " + ing + "\n"
	}
	return out
}
