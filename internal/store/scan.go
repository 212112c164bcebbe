package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// scanConcurrency 全量重建时同时读取的文件数
const scanConcurrency = 8

// FileRecords 单个集合文件的读取结果
type FileRecords[T any] struct {
	File   string
	Loaded Loaded[T]
}

// ScanDir 并发读取 dir 下所有以 suffix 结尾的集合文件，结果按文件名排序。
// 目录不存在返回空结果；单个文件的读取失败记为告警，不中断扫描。
func ScanDir[T any](ctx context.Context, coll *Collection[T], dir, suffix string) ([]FileRecords[T], []Warning, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	results := make([]FileRecords[T], len(names))
	failures := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			loaded, err := coll.Load(filepath.Join(dir, name))
			results[i] = FileRecords[T]{File: name, Loaded: loaded}
			failures[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var warnings []Warning
	out := make([]FileRecords[T], 0, len(names))
	for i, r := range results {
		if failures[i] != nil {
			warnings = append(warnings, Warning{File: r.File, Message: failures[i].Error()})
			continue
		}
		warnings = append(warnings, r.Loaded.Warnings...)
		out = append(out, r)
	}
	return out, warnings, nil
}
