// Package dashboard serves the web dashboard backend: the token chain
// endpoints, embed configuration, the device registry view and the page that
// mounts the published dashboard.
package dashboard

import (
	"context"
	"errors"
	"sync"

	"motionboard/pkg/config"
)

// EmbedOptions is everything the widget needs to render one dashboard.
type EmbedOptions struct {
	InstanceURL string `json:"instanceUrl"`
	WorkspaceID string `json:"workspaceId"`
	DashboardID string `json:"dashboardId"`
	Token       string `json:"token"`
	ColorScheme string `json:"colorScheme,omitempty"`
}

// Widget renders a dashboard into a container once the container exists.
type Widget interface {
	Initialize(ctx context.Context, opts EmbedOptions, container string) error
}

var ErrNoToken = errors.New("scoped token is required to mount the dashboard")

// Mount ties one Widget to one container. Resolve marks the container as
// available; Initialize waits for that and runs the widget exactly once.
// A Mount is not re-initialized when its token expires; build a new one.
type Mount struct {
	opts   EmbedOptions
	widget Widget

	resolveOnce sync.Once
	ready       chan struct{}
	container   string

	initOnce sync.Once
	initErr  error
}

// NewMount validates opts and returns an unresolved mount.
func NewMount(opts EmbedOptions, w Widget) (*Mount, error) {
	embed := config.DashboardEmbed{InstanceURL: opts.InstanceURL, WorkspaceID: opts.WorkspaceID, DashboardID: opts.DashboardID}
	if err := embed.Validate(); err != nil {
		return nil, err
	}
	if opts.Token == "" {
		return nil, ErrNoToken
	}
	if opts.ColorScheme == "" {
		opts.ColorScheme = "light"
	}
	return &Mount{opts: opts, widget: w, ready: make(chan struct{})}, nil
}

// Resolve supplies the container. Only the first call has effect; it reports
// whether this call was the one that resolved the mount.
func (m *Mount) Resolve(container string) bool {
	resolved := false
	m.resolveOnce.Do(func() {
		m.container = container
		close(m.ready)
		resolved = true
	})
	return resolved
}

// Ready is closed once the container has been resolved.
func (m *Mount) Ready() <-chan struct{} { return m.ready }

// Initialize blocks until the mount is resolved or ctx ends. The widget is
// called at most once; every later call returns that first result. A call
// abandoned by ctx does not count as the first.
func (m *Mount) Initialize(ctx context.Context) error {
	select {
	case <-m.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.initOnce.Do(func() {
		m.initErr = m.widget.Initialize(ctx, m.opts, m.container)
	})
	return m.initErr
}
