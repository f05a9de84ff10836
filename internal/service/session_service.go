package service

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

// SessionService hands out one SessionManager per operator.
type SessionService struct {
	mu          sync.Mutex
	managers    map[string]*SessionManager
	remote      sessionSubmitter
	checkpoints *CacheService
	cfg         SessionConfig
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewSessionService constructs the registry.
func NewSessionService(remote sessionSubmitter, checkpoints *CacheService, cfg SessionConfig, metrics *MetricsService, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		managers:    make(map[string]*SessionManager),
		remote:      remote,
		checkpoints: checkpoints,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// Manager returns the operator's manager, creating it and resuming any checkpoint on first use.
func (s *SessionService) Manager(ctx context.Context, operatorID string) *SessionManager {
	operatorID = strings.TrimSpace(operatorID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.managers[operatorID]; ok {
		return m
	}
	m := NewSessionManager(operatorID, s.remote, s.checkpoints, s.cfg, s.metrics, s.logger)
	m.Resume(ctx)
	s.managers[operatorID] = m
	return m
}

// ActiveCount reports how many operators currently hold an active session.
func (s *SessionService) ActiveCount() int {
	s.mu.Lock()
	managers := make([]*SessionManager, 0, len(s.managers))
	for _, m := range s.managers {
		managers = append(managers, m)
	}
	s.mu.Unlock()

	active := 0
	for _, m := range managers {
		if m.Current().State == models.SessionActive {
			active++
		}
	}
	return active
}
