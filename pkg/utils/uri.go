package utils

import (
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// URIToPath 将 MCP file:/// URI 转换为本地绝对路径（project_root 参数可能以 URI 形式传入）
func URIToPath(uri string) string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ""
	}
	if !strings.HasPrefix(uri, "file://") {
		if abs, err := filepath.Abs(uri); err == nil {
			return abs
		}
		return uri
	}

	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}

	path := u.Path

	// Windows: /C:/foo -> C:/foo
	if os.PathSeparator == '\\' && len(path) > 2 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// SanitizeFileComponent 把 [A-Za-z0-9_.-] 之外的字符替换为 '_'，用于由 session id 生成文件名。
// 只影响文件名，记录内部的原始 id 不变。
// 发生替换时追加原始值的短摘要，"a:b" 与 "a/b" 因此落到不同文件。
func SanitizeFileComponent(s string) string {
	clean := replaceUnsafe(s)
	if clean == s {
		return clean
	}
	sum := blake3.Sum256([]byte(s))
	return clean + "_" + hex.EncodeToString(sum[:4])
}

func replaceUnsafe(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '_', r == '.', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
