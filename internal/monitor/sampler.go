package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/veridoc/veridoc/internal/models"
)

// SystemSampler reads host memory and temperature and probes the remote
// vision endpoint for reachability.
type SystemSampler struct {
	// RemoteURL is probed with a short HEAD request. Empty means no
	// remote endpoint is configured and reachability reports false.
	RemoteURL string

	client *http.Client
}

// NewSystemSampler creates a sampler for the host.
func NewSystemSampler(remoteURL string) *SystemSampler {
	return &SystemSampler{
		RemoteURL: remoteURL,
		client:    &http.Client{Timeout: 3 * time.Second},
	}
}

// Sample implements Sampler.
func (s *SystemSampler) Sample() (models.Sample, error) {
	ratio, err := readMemoryRatio()
	if err != nil {
		return models.Sample{}, err
	}
	return models.Sample{
		MemoryUsedRatio: ratio,
		TemperatureC:    readTemperature(),
		RemoteReachable: s.pingRemote(),
	}, nil
}

func (s *SystemSampler) pingRemote() bool {
	if s.RemoteURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.RemoteURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any HTTP answer means the endpoint is up; auth errors still count.
	return resp.StatusCode < 500
}
