package search

import (
	"sync"

	"recipe-resolver/internal/pkg/common"

	"go.uber.org/zap"
)

// Revalidator 陳舊條目的背景刷新器
// 以組合鍵為單位的任務註冊表：同一鍵的並發觸發只會有一次刷新在途，
// 避免重複刷新造成重複的額度消耗
type Revalidator struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewRevalidator 創建刷新器
func NewRevalidator() *Revalidator {
	return &Revalidator{
		inflight: make(map[string]struct{}),
	}
}

// Trigger 觸發一次背景刷新
// 同鍵已有刷新在途時直接略過；呼叫立即返回，不提供可等待的結果
func (r *Revalidator) Trigger(key string, refresh func()) {
	r.mu.Lock()
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		common.LogDebug("同鍵刷新已在途，略過", zap.String("鍵", key))
		return
	}
	r.inflight[key] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer func() {
			if err := recover(); err != nil {
				common.LogError("背景刷新 panic", zap.Any("error", err), zap.String("鍵", key))
			}
			r.mu.Lock()
			delete(r.inflight, key)
			r.mu.Unlock()
			r.wg.Done()
		}()
		refresh()
	}()
}

// Wait 等待所有在途刷新完成（關閉流程使用）
func (r *Revalidator) Wait() {
	r.wg.Wait()
}
