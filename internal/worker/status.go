package worker

import (
	"os"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

type status struct {
	id       string
	hostname string

	mu sync.RWMutex
	ws types.WorkerStatus
}

func newStatus(id string) *status {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &status{
		id:       id,
		hostname: hostname,
		ws:       types.WorkerStatus{Status: "idle"},
	}
}

func (s *status) set(state, currentJob string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws.Status = state
	s.ws.CurrentJob = currentJob
	s.ws.LastPing = time.Now()
}

func (s *status) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws.Status = "idle"
	s.ws.CurrentJob = ""
	s.ws.JobsComplete++
	s.ws.LastPing = time.Now()
}

func (s *status) snapshot() *types.WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws := s.ws
	ws.ID = s.id
	ws.Hostname = s.hostname
	return &ws
}
