package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"store_audit_backend/internal/util"
	"store_audit_backend/pkg/logger"
	"store_audit_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// SessionManager 管理打开中的审核会话（每个审核一个），并定期刷新作为兜底
type SessionManager struct {
	store          AuditPersistence
	persistTimeout time.Duration
	idleTimeout    time.Duration

	mu           sync.Mutex
	sessions     map[string]*AuditSession
	pollInterval time.Duration

	reset    chan struct{}
	stop     chan struct{}
	done     chan struct{}
	running  bool
	stopOnce sync.Once
}

func NewSessionManager(store AuditPersistence, pollInterval, persistTimeout, idleTimeout time.Duration) *SessionManager {
	return &SessionManager{
		store:          store,
		persistTimeout: persistTimeout,
		idleTimeout:    idleTimeout,
		sessions:       make(map[string]*AuditSession),
		pollInterval:   pollInterval,
		reset:          make(chan struct{}, 1),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Open 返回审核的会话，不存在则加载并登记
func (m *SessionManager) Open(ctx context.Context, auditID string) (*AuditSession, error) {
	m.mu.Lock()
	if s, ok := m.liveLocked(auditID); ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s := NewAuditSession(m.store, auditID, m.persistTimeout)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// 并发打开同一审核时以先登记的为准
	if existing, ok := m.liveLocked(auditID); ok {
		return existing, nil
	}
	m.sessions[auditID] = s
	monitoring.OpenSessions.Set(float64(len(m.sessions)))
	logger.Log.Info("Audit session opened", zap.String("audit_id", auditID))
	return s, nil
}

// Get 返回已打开的会话
func (m *SessionManager) Get(auditID string) (*AuditSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveLocked(auditID)
	if !ok {
		return nil, util.ErrSessionNotOpen
	}
	return s, nil
}

// liveLocked 返回登记中且未关闭的会话；写入时发现审核已删除的会话在这里注销
func (m *SessionManager) liveLocked(auditID string) (*AuditSession, bool) {
	s, ok := m.sessions[auditID]
	if !ok {
		return nil, false
	}
	if s.Closed() {
		delete(m.sessions, auditID)
		monitoring.OpenSessions.Set(float64(len(m.sessions)))
		return nil, false
	}
	return s, true
}

// Close 注销并关闭会话：之后该会话拒绝写入，进行中的写入完成后才返回
func (m *SessionManager) Close(auditID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[auditID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, auditID)
	monitoring.OpenSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	s.close()
	logger.Log.Info("Audit session closed", zap.String("audit_id", auditID))
	return true
}

func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*AuditSession)
	monitoring.OpenSessions.Set(0)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	logger.Log.Info("All audit sessions closed", zap.Int("count", len(sessions)))
}

// Len 打开中的会话数
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) snapshot() []*AuditSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*AuditSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SetPollInterval 修改轮询间隔，0 表示关闭轮询
func (m *SessionManager) SetPollInterval(d time.Duration) {
	m.mu.Lock()
	if m.pollInterval == d {
		m.mu.Unlock()
		return
	}
	m.pollInterval = d
	m.mu.Unlock()

	select {
	case m.reset <- struct{}{}:
	default:
	}
	logger.Log.Info("Audit poll interval updated", zap.Duration("interval", d))
}

func (m *SessionManager) PollInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollInterval
}

// Start 启动后台轮询
func (m *SessionManager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run()
}

// Stop 停止后台轮询并等待退出
func (m *SessionManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		running := m.running
		m.mu.Unlock()
		if running {
			<-m.done
		}
	})
}

func (m *SessionManager) run() {
	defer close(m.done)

	var ticker *time.Ticker
	var tick <-chan time.Time
	arm := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if d := m.PollInterval(); d > 0 {
			ticker = time.NewTicker(d)
			tick = ticker.C
		}
	}
	arm()
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-m.stop:
			return
		case <-m.reset:
			arm()
		case <-tick:
			m.Poll(context.Background())
		}
	}
}

// Poll 对每个打开的会话执行一次刷新，并关闭空闲过久或已被删除的会话
func (m *SessionManager) Poll(ctx context.Context) {
	now := time.Now()
	for _, s := range m.snapshot() {
		if m.idleTimeout > 0 && now.Sub(s.IdleSince()) > m.idleTimeout {
			m.Close(s.AuditID())
			continue
		}
		refreshed, err := s.TryRefresh(ctx)
		if err != nil {
			if errors.Is(err, util.ErrAuditNotFound) {
				m.Close(s.AuditID())
				continue
			}
			logger.Log.Warn("Audit session refresh failed", zap.String("audit_id", s.AuditID()), zap.Error(err))
			continue
		}
		if !refreshed {
			logger.Log.Debug("Audit session busy, refresh skipped", zap.String("audit_id", s.AuditID()))
		}
	}
}
