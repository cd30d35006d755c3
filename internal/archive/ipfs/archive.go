// Package ipfs stores audit payloads on an IPFS node through its HTTP API.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

// Archive pins JSON payloads and returns their content identifiers.
type Archive struct {
	sh *shell.Shell
}

// New returns an archive bound to the node at url. An empty url yields nil,
// which callers treat as an absent archive.
func New(url string, timeout time.Duration) *Archive {
	if url == "" {
		return nil
	}
	sh := shell.NewShell(url)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	return &Archive{sh: sh}
}

func (a *Archive) Name() string { return "ipfs" }

func (a *Archive) Available() bool { return a != nil && a.sh != nil }

// Store adds payload as a JSON document and returns its CID.
func (a *Archive) Store(ctx context.Context, payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal archive payload: %w", err)
	}

	type result struct {
		cid string
		err error
	}
	// the shell API has no context support; the shell's own timeout bounds
	// the goroutine once ctx gives up
	done := make(chan result, 1)
	go func() {
		cid, err := a.sh.Add(bytes.NewReader(data))
		done <- result{cid: cid, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("add to ipfs: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("add to ipfs: %w", res.err)
		}
		return res.cid, nil
	}
}

// Ping reports whether the node answers.
func (a *Archive) Ping(ctx context.Context) error {
	if !a.Available() {
		return sentinel.ErrNotConfigured
	}
	done := make(chan bool, 1)
	go func() { done <- a.sh.IsUp() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case up := <-done:
		if !up {
			return sentinel.ErrUnavailable
		}
		return nil
	}
}

// Status describes the archive node.
type Status struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}

// Status asks the node for its version.
func (a *Archive) Status(ctx context.Context) (Status, error) {
	if !a.Available() {
		return Status{}, sentinel.ErrNotConfigured
	}
	type result struct {
		st  Status
		err error
	}
	done := make(chan result, 1)
	go func() {
		version, commit, err := a.sh.Version()
		done <- result{st: Status{Version: version, Commit: commit}, err: err}
	}()
	select {
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return Status{}, fmt.Errorf("ipfs version: %w", res.err)
		}
		return res.st, nil
	}
}
