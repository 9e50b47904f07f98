package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wahagate/pkg/whatsapp/types"
)

type sessionProber struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSessionProber creates a client for the WAHA sessions API
func NewSessionProber(baseURL, apiKey string, timeout time.Duration) SessionProber {
	return &sessionProber{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (sp *sessionProber) Status(ctx context.Context, name string) (*types.SessionInfo, error) {
	endpoint := fmt.Sprintf("%s%s%s/%s", sp.baseURL, types.APIBase, types.EndpointSessions, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if sp.apiKey != "" {
		req.Header.Set(types.HeaderAPIKey, sp.apiKey)
	}

	resp, err := sp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("failed to get session, status: %d", resp.StatusCode)
	}

	var info types.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if info.Status == "" {
		return nil, fmt.Errorf("session response has no status")
	}
	info.Status = strings.ToUpper(info.Status)

	return &info, nil
}
