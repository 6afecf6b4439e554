package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultEndpoint = "https://wis.qq.com/weather/common"
	placeholder     = "☁️ 天气更新中"
	maxAge          = 30 * time.Minute
)

// Service keeps one cached weather line for the prompt's environment
// header. Line never blocks: a stale cache triggers a background
// refresh and the caller gets the previous value (or the placeholder)
// immediately, so a slow weather backend can not delay a turn.
type Service struct {
	client   *http.Client
	city     func() string
	logger   *slog.Logger
	endpoint string

	mu        sync.Mutex
	line      string
	fetchedAt time.Time
	inflight  bool
}

func NewService(client *http.Client, city func() string, logger *slog.Logger) *Service {
	return &Service{client: client, city: city, logger: logger, endpoint: defaultEndpoint}
}

// Line returns the current weather line for the prompt. The refresh
// runs detached from the caller's context: the turn that noticed the
// staleness should not drag the fetch down with it when it finishes
// first.
func (s *Service) Line(_ context.Context) string {
	s.mu.Lock()
	line := s.line
	stale := time.Since(s.fetchedAt) > maxAge
	if stale && !s.inflight {
		s.inflight = true
		go s.refresh(context.Background())
	}
	s.mu.Unlock()

	if line == "" {
		return placeholder
	}
	return line
}

func (s *Service) refresh(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.inflight = false
		s.mu.Unlock()
	}()

	city := s.city()
	line, err := s.fetch(ctx, city)
	if err != nil {
		s.logger.Warn("weather refresh failed", "city", city, "error", err)
		return
	}

	s.mu.Lock()
	s.line = line
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	s.logger.Debug("weather refreshed", "city", city, "line", line)
}

func (s *Service) fetch(ctx context.Context, city string) (string, error) {
	q := url.Values{}
	q.Set("source", "pc")
	q.Set("weather_type", "observe")
	q.Set("province", "")
	q.Set("city", city)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("weather status %d", resp.StatusCode)
	}

	var parsed struct {
		Data struct {
			Observe struct {
				Weather string `json:"weather"`
				Degree  string `json:"degree"`
			} `json:"observe"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	obs := parsed.Data.Observe
	if obs.Weather == "" {
		return "", fmt.Errorf("weather response empty for %s", city)
	}
	return fmt.Sprintf("%s %s %s %s°C", iconFor(obs.Weather), city, obs.Weather, obs.Degree), nil
}

func iconFor(weather string) string {
	switch {
	case strings.Contains(weather, "晴"):
		return "☀️"
	case strings.Contains(weather, "雨"):
		return "🌧️"
	default:
		return "☁️"
	}
}
