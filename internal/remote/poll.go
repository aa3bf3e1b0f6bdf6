package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flashguard-go/internal/config"
)

var ErrNotModified = errors.New("settings not modified")

// Poll fetches a JSON settings document from url every interval and hands
// it, merged over base(), to update. Unchanged documents are skipped.
func Poll(ctx context.Context, url string, interval time.Duration, base func() config.Settings, update func(config.Settings, error)) {
	if url == "" || update == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if base == nil {
		base = config.Defaults
	}
	client := &http.Client{
		Timeout: 5 * time.Second,
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []byte
	for {
		body, err := fetch(ctx, client, url)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				update(config.Settings{}, err)
			}
		case !bytes.Equal(body, last):
			s, err := Decode(body, base())
			if err == nil {
				last = body
			}
			update(s, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: http_%d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// Decode merges a settings document over base. The document may be the
// settings object itself or wrap it under "settings" or "value".
func Decode(payload []byte, base config.Settings) (config.Settings, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return config.Settings{}, fmt.Errorf("decode remote settings: %w", err)
	}
	obj := findSettings(decoded)
	if obj == nil {
		return config.Settings{}, fmt.Errorf("%w: no settings object", config.ErrInvalidConfig)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return config.Settings{}, err
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return config.Settings{}, fmt.Errorf("decode remote settings: %w", err)
	}
	return base, nil
}

func findSettings(value any) map[string]any {
	v, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"settings", "value"} {
		if inner, ok := v[key].(map[string]any); ok {
			return inner
		}
	}
	for key := range v {
		if strings.HasPrefix(key, "flash") || strings.HasPrefix(key, "overlay") || key == "cooldownTime" {
			return v
		}
	}
	return nil
}
