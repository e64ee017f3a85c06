package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Exec runs an external helper for every request. The request is sent
// as JSON on stdin; the helper answers with {"packages": [...]} on
// stdout.
type Exec struct {
	Command string
	Args    []string
	// CacheDir 传给 helper 的 --cache 参数，为空则不传
	CacheDir string
}

type execResponse struct {
	Packages []Package `json:"packages"`
}

func (e *Exec) Resolve(ctx context.Context, req Request) ([]Package, error) {
	if e.Command == "" {
		return nil, fmt.Errorf("%w: no resolver command configured", ErrResolve)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrResolve, err)
	}

	args := append([]string(nil), e.Args...)
	if e.CacheDir != "" {
		args = append(args, "--cache", e.CacheDir)
	}

	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s: %v: %s", ErrResolve, e.Command, err, msg)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrResolve, e.Command, err)
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response from %s: %v", ErrResolve, e.Command, err)
	}
	for i, p := range resp.Packages {
		if p.Checksum == "" || p.Path == "" {
			return nil, fmt.Errorf("%w: package %d in response lacks checksum or path", ErrResolve, i)
		}
	}
	return resp.Packages, nil
}
