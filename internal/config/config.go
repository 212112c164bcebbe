// Package config 加载 .research/config.{yaml,yml,json} 并构造日志器。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultResearchDir 研究数据目录（相对项目根）
const DefaultResearchDir = ".research"

// Config 运行配置
type Config struct {
	ProjectRoot      string `json:"project_root" yaml:"project_root"`
	ResearchDir      string `json:"research_dir" yaml:"research_dir"`
	AutoRebuildIndex *bool  `json:"auto_rebuild_index" yaml:"auto_rebuild_index"`
	LogLevel         string `json:"log_level" yaml:"log_level"`
	ArchivePath      string `json:"archive_path" yaml:"archive_path"`

	// Source 实际读取的配置文件，未找到时为空
	Source string `json:"-" yaml:"-"`
}

// AutoIndex 写入后是否增量刷新索引，缺省为 true
func (c Config) AutoIndex() bool {
	return c.AutoRebuildIndex == nil || *c.AutoRebuildIndex
}

// Candidates 项目根下按优先级排列的配置文件路径
func Candidates(projectRoot string) []string {
	if strings.TrimSpace(projectRoot) == "" {
		return nil
	}
	base := filepath.Join(projectRoot, DefaultResearchDir)
	return []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
		filepath.Join(base, "config.json"),
	}
}

// Load 读取配置。explicit 非空时只读该文件（不存在即报错）；否则在项目根下查找，找不到则使用默认值。
func Load(projectRoot, explicit string) (Config, error) {
	cfg := Config{ProjectRoot: projectRoot}

	path := explicit
	if path == "" {
		for _, p := range Candidates(projectRoot) {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && explicit == "" {
				return cfg.withDefaults(), nil
			}
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := parse(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
		cfg.Source = path
		if cfg.ProjectRoot == "" {
			cfg.ProjectRoot = projectRoot
		}
	}
	return cfg.withDefaults(), nil
}

// parse .json 允许注释与尾随逗号，其余按 YAML 解析
func parse(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func (c Config) withDefaults() Config {
	if c.ResearchDir == "" {
		c.ResearchDir = DefaultResearchDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ArchivePath == "" {
		c.ArchivePath = filepath.Join(c.ResearchDir, "mail.db")
	}
	return c
}

// ResolvedResearchDir 研究目录的绝对路径（相对路径以项目根为基准）
func (c Config) ResolvedResearchDir() string {
	return c.resolve(c.ResearchDir)
}

// ResolvedArchivePath 消息归档数据库的绝对路径
func (c Config) ResolvedArchivePath() string {
	return c.resolve(c.ArchivePath)
}

func (c Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.ProjectRoot == "" {
		return p
	}
	return filepath.Join(c.ProjectRoot, p)
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Logger 输出到 stderr 的文本日志器；stdout 留给 MCP stdio 传输
func (c Config) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(c.LogLevel)}))
}
