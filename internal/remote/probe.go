package remote

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Probe checks connectivity by calling the service health endpoint. Answers
// are cached for a short time so a burst of checks costs one request.
type Probe struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration

	mu      sync.Mutex
	checked time.Time
	online  bool
	now     func() time.Time
}

// NewProbe creates a probe for the service at baseURL.
func NewProbe(baseURL string, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Probe{
		url:        strings.TrimRight(baseURL, "/") + PathHealth,
		httpClient: &http.Client{Timeout: timeout},
		ttl:        5 * time.Second,
		now:        time.Now,
	}
}

// Online reports whether the health endpoint answered with a 2xx status.
func (p *Probe) Online(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.checked.IsZero() && p.now().Sub(p.checked) < p.ttl {
		return p.online
	}

	p.online = p.check(ctx)
	p.checked = p.now()
	return p.online
}

// Invalidate forgets the cached answer.
func (p *Probe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checked = time.Time{}
}

func (p *Probe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
