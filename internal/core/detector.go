package core

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectRootEnv 显式指定项目根目录的环境变量
const ProjectRootEnv = "BRENNER_PROJECT_ROOT"

// DetectProjectRoot 探测项目根目录：先看环境变量，再退回当前工作目录
func DetectProjectRoot() string {
	envKeys := []string{ProjectRootEnv, "WORKSPACE_FOLDER", "INIT_CWD"}
	for _, k := range envKeys {
		val := strings.TrimSpace(os.Getenv(k))
		if val == "" {
			continue
		}
		if abs, err := filepath.Abs(val); err == nil && ValidateProjectPath(abs) {
			return abs
		}
	}

	cwd, err := os.Getwd()
	if err == nil {
		if abs, err := filepath.Abs(cwd); err == nil && ValidateProjectPath(abs) {
			return abs
		}
	}
	return ""
}

// ValidateProjectPath 路径必须是已存在的目录，且不是盘符/文件系统根目录
func ValidateProjectPath(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return false
	}
	if abs == filepath.VolumeName(abs)+string(filepath.Separator) {
		return false
	}

	pLow := strings.ToLower(abs)
	for _, trap := range []string{"c:\\windows", "system32", "program files", "programdata"} {
		if strings.Contains(pLow, trap) {
			return false
		}
	}
	return true
}
