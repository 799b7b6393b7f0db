// Package bark sends operator push notifications through the Bark API.
package bark

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ConfigFunc is called on every push so config changes apply without restart.
type ConfigFunc func() (key, serverURL, appName string)

// Service delivers push notifications, with per-key throttling for noisy
// event sources.
type Service struct {
	configFn   ConfigFunc
	httpClient *http.Client

	mu         sync.Mutex
	lastPushAt map[string]time.Time
	throttleD  time.Duration
}

// New creates a Bark service. configFn is consulted on each push.
func New(configFn ConfigFunc) *Service {
	return &Service{
		configFn:   configFn,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		lastPushAt: make(map[string]time.Time),
		throttleD:  10 * time.Minute,
	}
}

type pushPayload struct {
	DeviceKey string `json:"device_key"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Category  string `json:"category,omitempty"`
	Group     string `json:"group,omitempty"`
}

// Push sends a notification immediately.
func (s *Service) Push(title, body string) error {
	key, serverURL, appName := s.configFn()
	if key == "" {
		return fmt.Errorf("bark key not configured")
	}
	if serverURL == "" {
		serverURL = "https://day.app"
	}

	payload := pushPayload{
		DeviceKey: key,
		Title:     fmt.Sprintf("[%s] %s", appName, title),
		Body:      body,
		Category:  appName,
		Group:     appName,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Post(serverURL+"/push", "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// ThrottledPush sends at most one notification per throttle window for the
// same key. Repeated failures of the same job or user collapse into one push.
func (s *Service) ThrottledPush(key, title, body string) {
	deviceKey, _, _ := s.configFn()
	if deviceKey == "" {
		return
	}

	s.mu.Lock()
	last, ok := s.lastPushAt[key]
	if ok && time.Since(last) < s.throttleD {
		s.mu.Unlock()
		return
	}
	s.lastPushAt[key] = time.Now()
	s.mu.Unlock()

	_ = s.Push(title, body)
}
