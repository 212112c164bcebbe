package store

import "sync"

// Serializer 按资源 key 串行化写操作。
//
// 同一 key 的写操作严格按提交顺序执行：新操作排在前一个操作之后，前一个无论成功、失败还是 panic 都会放行。
// 不同 key 之间互不阻塞。读操作不经过 Serializer。
// 每个 store 持有自己的实例（构造时注入），不存在进程级共享的锁表。
type Serializer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewSerializer 创建空的串行器
func NewSerializer() *Serializer {
	return &Serializer{tails: make(map[string]chan struct{})}
}

// Do 在 key 的队列末尾执行 fn，返回 fn 自己的错误
func (s *Serializer) Do(key string, fn func() error) error {
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.tails[key]
	s.tails[key] = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.tails[key] == done {
			delete(s.tails, key)
		}
		s.mu.Unlock()
		close(done)
	}()

	if prev != nil {
		<-prev
	}
	return fn()
}

// Pending 当前仍有未完成写操作的 key 数量
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}
