package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"connswarm/internal/swarm"
)

// RunRecord is one completed run: the config that drove it and the
// aggregate view of its outcomes.
type RunRecord struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Config    swarm.Config  `json:"config"`
	Summary   swarm.Summary `json:"summary"`
}

// History is a capped JSON index of past runs, newest first.
type History struct {
	mu       sync.RWMutex
	filePath string
	items    []RunRecord
}

const maxHistoryItems = 100

// NewHistory loads (or creates) the history index under dir. An empty dir
// defaults to ~/.connswarm.
func NewHistory(dir string) (*History, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".connswarm")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	h := &History{
		filePath: filepath.Join(dir, "history.json"),
	}
	h.load()
	return h, nil
}

func (h *History) load() {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.filePath)
	if err != nil {
		return // file might not exist yet
	}
	json.Unmarshal(data, &h.items)
}

func (h *History) Save(rec RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = append([]RunRecord{rec}, h.items...)
	if len(h.items) > maxHistoryItems {
		h.items = h.items[:maxHistoryItems]
	}

	data, err := json.MarshalIndent(h.items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(h.filePath, data, 0644)
}

func (h *History) List() []RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	res := make([]RunRecord, len(h.items))
	copy(res, h.items)
	return res
}

func (h *History) Get(id string) *RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, item := range h.items {
		if item.ID == id {
			return &item
		}
	}
	return nil
}
