package tester

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// stageB performs the optional egress-IP classification step (spec
// §4.8 Stage B): echo the egress IP through the engine, look it up
// against an IP-info endpoint, and extract a category tag. Results are
// cached per egress IP for the lifetime of the Tester (Supplemented
// features, §4 of SPEC_FULL) so nodes sharing a NAT gateway don't
// re-query the classification API. Failures here never fail the Result.
func (t *Tester) stageB(ctx context.Context, proxyAddr string) (string, bool) {
	if t.cfg.IPEchoURL == "" || t.cfg.IPInfoURLFmt == "" {
		return "", false
	}

	client := httpClientViaSOCKS(proxyAddr, 5*time.Second)

	ip, err := echoEgressIP(ctx, client, t.cfg.IPEchoURL)
	if err != nil {
		return "", false
	}

	if cached, ok := t.ipCache.Load(ip); ok {
		return cached.(string), true
	}

	if t.cfg.IPInfoLimiter != nil {
		if err := t.cfg.IPInfoLimiter.Wait(ctx); err != nil {
			return "", false
		}
	}

	purity, err := lookupPurity(ctx, client, fmt.Sprintf(t.cfg.IPInfoURLFmt, ip))
	if err != nil {
		return "", false
	}
	t.ipCache.Store(ip, purity)
	return purity, true
}

func echoEgressIP(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return "", fmt.Errorf("empty ip echo response")
	}
	return ip, nil
}

// ipInfoResponse covers the handful of shapes common IP-classification
// APIs return; only the category-ish field is read.
type ipInfoResponse struct {
	Category string `json:"category"`
	Type     string `json:"type"`
	Org      string `json:"org"`
}

func lookupPurity(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var info ipInfoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&info); err != nil {
		return "", err
	}
	switch {
	case info.Category != "":
		return info.Category, nil
	case info.Type != "":
		return info.Type, nil
	case strings.Contains(strings.ToLower(info.Org), "hosting"):
		return "Hosting", nil
	default:
		return "Unknown", nil
	}
}
