// Package memory is a process-local content-addressable archive.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

// Archive keys payloads by the sha256 of their JSON encoding.
type Archive struct {
	mu        sync.RWMutex
	objects   map[string][]byte
	available bool
	failWith  error
}

func New() *Archive {
	return &Archive{objects: make(map[string][]byte), available: true}
}

func (a *Archive) Name() string { return "ipfs" }

func (a *Archive) Available() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.available
}

// SetAvailable toggles the capability.
func (a *Archive) SetAvailable(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available = v
}

// FailWith makes subsequent Store calls fail; nil restores normal behavior.
func (a *Archive) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failWith = err
}

func (a *Archive) Store(ctx context.Context, payload map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal archive payload: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return "", fmt.Errorf("add to archive: %w", a.failWith)
	}
	sum := sha256.Sum256(data)
	cid := "sha256-" + hex.EncodeToString(sum[:])
	a.objects[cid] = data
	return cid, nil
}

func (a *Archive) Ping(_ context.Context) error {
	if !a.Available() {
		return sentinel.ErrUnavailable
	}
	return nil
}

// Get returns the stored bytes for cid.
func (a *Archive) Get(cid string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[cid]
	return data, ok
}

func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}
