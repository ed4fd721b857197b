package extract

import (
	"os"
	"strings"
)

func extractPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func init() {
	register(".txt", extractPlainText)
	register(".text", extractPlainText)
	register(".log", extractPlainText)
}
