package network

import (
	"net/http"
	"sync"
	"time"

	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"go.uber.org/zap"
)

// Monitor 網路可達性監測
// 以 HTTP 探測維護連線狀態；客戶端也可直接覆寫（行動裝置自身最清楚連線狀態）
type Monitor struct {
	mu         sync.RWMutex
	online     bool
	overridden bool
	subs       []chan bool

	probeURL string
	client   *http.Client
	done     chan struct{}
	once     sync.Once
}

// NewMonitor 創建監測器並啟動探測協程
func NewMonitor(cfg *config.NetworkConfig) *Monitor {
	m := &Monitor{
		online:   true, // 未探測前樂觀假設在線
		probeURL: cfg.ProbeURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}

	if cfg.ProbeInterval > 0 && cfg.ProbeURL != "" {
		go m.startProbe(cfg.ProbeInterval)
	}

	return m
}

// Online 目前是否在線
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline 手動覆寫連線狀態，之後探測不再改寫
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	m.overridden = true
	changed := m.online != online
	m.online = online
	subs := append([]chan bool(nil), m.subs...)
	m.mu.Unlock()

	if changed {
		m.notify(subs, online)
	}
}

// Subscribe 訂閱連線狀態變更
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// startProbe 啟動探測協程
func (m *Monitor) startProbe(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.done:
			return
		}
	}
}

// probe 單次探測
func (m *Monitor) probe() {
	m.mu.RLock()
	overridden := m.overridden
	m.mu.RUnlock()
	if overridden {
		return
	}

	resp, err := m.client.Head(m.probeURL)
	online := err == nil && resp.StatusCode < 500
	if resp != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := append([]chan bool(nil), m.subs...)
	m.mu.Unlock()

	if changed {
		common.LogInfo("連線狀態變更", zap.Bool("online", online))
		m.notify(subs, online)
	}
}

// notify 通知訂閱者，滿了就丟棄（訂閱者只關心最新狀態）
func (m *Monitor) notify(subs []chan bool, online bool) {
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Close 停止探測
func (m *Monitor) Close() {
	m.once.Do(func() {
		close(m.done)
	})
}
