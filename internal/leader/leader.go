// Package leader provides Kubernetes Lease-based leader election so that
// exactly one replica runs the auction engine and accepts commands. The
// engine serializes each scope in process, so a second writer would break
// per-scope ordering.
package leader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/draft-auction/internal/config"
)

var (
	// ErrLeadershipLost is returned by Run when the lease is lost while the
	// context is still live.
	ErrLeadershipLost = errors.New("leadership lost")
	// ErrNotLeader is reported by Check on a standby replica.
	ErrNotLeader = errors.New("not the leader")
)

// identity returns a unique identity for this instance.
// It uses the POD_NAME env var if set, otherwise the hostname.
func identity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// ClientFactory creates a Kubernetes clientset.
// Extracted as a variable for testing.
var ClientFactory = func() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// Elector runs work only while this replica is the leader.
type Elector struct {
	cfg     config.LeaderElectionConfig
	logger  *slog.Logger
	id      string
	leading atomic.Bool
}

// Option configures an Elector.
type Option func(*Elector)

// WithIdentity overrides the lease holder identity derived from the
// environment.
func WithIdentity(id string) Option {
	return func(e *Elector) { e.id = id }
}

// New returns an Elector. With election disabled the replica always leads.
func New(cfg config.LeaderElectionConfig, logger *slog.Logger, opts ...Option) *Elector {
	e := &Elector{cfg: cfg, logger: logger, id: identity()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Identity returns the lease holder identity of this replica.
func (e *Elector) Identity() string { return e.id }

// IsLeader reports whether lead is currently running.
func (e *Elector) IsLeader() bool { return e.leading.Load() }

// Check is a readiness check that fails on standby replicas.
func (e *Elector) Check(context.Context) error {
	if !e.IsLeader() {
		return fmt.Errorf("%w (identity %s)", ErrNotLeader, e.id)
	}
	return nil
}

// Run blocks until ctx is done or leadership is lost. lead is called with a
// context that is cancelled when leadership ends; it should block until
// then. When election is disabled lead runs immediately.
func (e *Elector) Run(ctx context.Context, lead func(ctx context.Context) error) error {
	if !e.cfg.Enabled {
		e.logger.Info("leader election disabled, running as sole writer", slog.String("identity", e.id))
		e.leading.Store(true)
		defer e.leading.Store(false)
		return lead(ctx)
	}

	e.logger.Info("starting leader election",
		slog.String("identity", e.id),
		slog.String("lease", e.cfg.LeaseName),
		slog.String("namespace", e.cfg.LeaseNamespace),
	)

	client, err := ClientFactory()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      e.cfg.LeaseName,
			Namespace: e.cfg.LeaseNamespace,
		},
		Client: client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: e.id,
		},
	}

	var (
		leadErr error
		led     atomic.Bool
		done    = make(chan struct{})
	)
	le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   e.cfg.LeaseDuration,
		RenewDeadline:   e.cfg.RenewDeadline,
		RetryPeriod:     e.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				e.logger.Info("acquired leadership", slog.String("identity", e.id))
				led.Store(true)
				e.leading.Store(true)
				defer close(done)
				leadErr = lead(ctx)
			},
			OnStoppedLeading: func() {
				e.leading.Store(false)
				e.logger.Info("lost leadership", slog.String("identity", e.id))
			},
			OnNewLeader: func(newID string) {
				if newID == e.id {
					return
				}
				e.logger.Info("new leader elected", slog.String("leader", newID))
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating leader elector: %w", err)
	}

	le.Run(ctx)
	if !led.Load() {
		return nil
	}
	// Run cancels lead's context on return; wait for lead to finish.
	<-done

	switch {
	case leadErr != nil:
		return leadErr
	case ctx.Err() == nil:
		return ErrLeadershipLost
	default:
		return nil
	}
}
