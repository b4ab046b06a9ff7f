package mocks

import (
	"context"
	"sync"

	"missionctl/pkg/mission"
)

// Notification is one captured Notify call.
type Notification struct {
	MissionID string
	Type      string
	Message   string
}

// CapturePublisher records every publish for later assertion.
type CapturePublisher struct {
	mu            sync.Mutex
	results       []*mission.Mission
	notifications []Notification
}

func NewCapturePublisher() *CapturePublisher {
	return &CapturePublisher{}
}

func (p *CapturePublisher) PublishResult(_ context.Context, m *mission.Mission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, m)
}

func (p *CapturePublisher) Notify(_ context.Context, missionID, notificationType, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, Notification{
		MissionID: missionID,
		Type:      notificationType,
		Message:   message,
	})
}

// Results returns the captured mission results in publish order.
func (p *CapturePublisher) Results() []*mission.Mission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*mission.Mission, len(p.results))
	copy(out, p.results)
	return out
}

// Notifications returns the captured notifications in publish order.
func (p *CapturePublisher) Notifications() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Notification, len(p.notifications))
	copy(out, p.notifications)
	return out
}
