package client

import (
	"context"
	"time"

	"github.com/kiranshivaraju/podpilot/pkg/models"
)

// DefaultPollInterval is how often a Poller refreshes the pod list.
const DefaultPollInterval = 30 * time.Second

type podLister interface {
	ListPods(ctx context.Context) ([]models.PodSummary, error)
}

// Poller refreshes the pod list on a fixed interval and hands every result to
// a callback. Fetches never overlap: a slow fetch delays the next tick.
type Poller struct {
	pods     podLister
	interval time.Duration
	onUpdate func(pods []models.PodSummary, err error)
}

// NewPoller creates a Poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(c *Client, interval time.Duration, onUpdate func([]models.PodSummary, error)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{pods: c, interval: interval, onUpdate: onUpdate}
}

// Run fetches immediately, then on every tick until ctx is done. It returns
// ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		pods, err := p.pods.ListPods(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.onUpdate(pods, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
