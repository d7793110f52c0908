package session

import (
	"sync"

	"github.com/google/uuid"

	"cdpintercept/internal/logger"
	"cdpintercept/pkg/model"
)

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.SessionID]*Session),
		log:      l,
	}
}

// Create 创建并注册新会话
func (m *Manager) Create(cfg model.SessionConfig) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := model.SessionID(uuid.NewString())
	s := New(id, cfg, m.log)
	m.sessions[id] = s
	m.log.Info("创建业务会话", "sessionID", string(id), "devtools", cfg.DevToolsURL)
	return s
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 注销会话并返回它，调用方负责关闭
func (m *Manager) Delete(id model.SessionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	if ok {
		m.log.Info("销毁业务会话", "sessionID", string(id))
	}
	return s, ok
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}
