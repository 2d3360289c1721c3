package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	git "github.com/go-git/go-git/v5"
)

const maxFetchBytes = 1 << 20

// HTTPGet fetches a URL and returns status plus a bounded body preview.
type HTTPGet struct {
	Client *http.Client
}

// Name implements Tool.
func (t *HTTPGet) Name() string { return "http_get" }

// Invoke performs the GET request. Parameters: url (string).
func (t *HTTPGet) Invoke(ctx context.Context, params map[string]any) (any, error) {
	url, err := stringParam(params, "url")
	if err != nil {
		return nil, err
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"status": resp.StatusCode,
		"bytes":  len(body),
		"body":   string(body),
	}, nil
}

// GitClone clones a repository into a destination directory.
type GitClone struct{}

// Name implements Tool.
func (t *GitClone) Name() string { return "git_clone" }

// Invoke performs a shallow clone. Parameters: url, destination (strings).
func (t *GitClone) Invoke(ctx context.Context, params map[string]any) (any, error) {
	url, err := stringParam(params, "url")
	if err != nil {
		return nil, err
	}
	destination, err := stringParam(params, "destination")
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainCloneContext(ctx, destination, false, &git.CloneOptions{
		URL:   url,
		Depth: 1,
	})
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"destination": destination,
		"head":        head.Hash().String(),
	}, nil
}

// Sleep pauses for a duration. Exists to exercise timeouts in tests and
// demos. Parameters: duration (string, time.ParseDuration syntax).
type Sleep struct{}

// Name implements Tool.
func (t *Sleep) Name() string { return "sleep" }

// Invoke blocks until the duration elapses or ctx is cancelled.
func (t *Sleep) Invoke(ctx context.Context, params map[string]any) (any, error) {
	raw, err := stringParam(params, "duration")
	if err != nil {
		return nil, err
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	select {
	case <-time.After(duration):
		return map[string]any{"slept": duration.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
