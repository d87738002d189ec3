// Package provisioner spins up a new backend server instance for a family
// when the routing policy decides existing capacity is exhausted. The
// store's provisioning lock guarantees at most one coordinator provisions
// per family at a time; the lock's TTL bounds the damage of a coordinator
// crashing mid-provision.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleet-coordinator/metrics"
	"fleet-coordinator/store"

	allocationv1 "agones.dev/agones/pkg/apis/allocation/v1"
	agonesclientset "agones.dev/agones/pkg/client/clientset/versioned"
	"github.com/rs/zerolog/log"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ErrContended means another coordinator holds the family's provision lock.
// Callers should back off and re-check capacity rather than retry blindly.
var ErrContended = errors.New("provisioner: provisioning already in progress for family")

// Result describes the freshly provisioned backend.
type Result struct {
	GameServerName string
	Address        string
	Port           int32
}

type Provisioner struct {
	store     *store.Store
	namespace string
	lockTTL   time.Duration
	agones    agonesclientset.Interface
}

func New(st *store.Store, namespace string, lockTTL time.Duration) *Provisioner {
	return &Provisioner{store: st, namespace: namespace, lockTTL: lockTTL}
}

// Provision allocates one game server from the family's fleet. The caller
// learns the address/port so it can be advertised ahead of the new server's
// own registration.
func (p *Provisioner) Provision(ctx context.Context, family string) (*Result, error) {
	start := time.Now()

	ok, err := p.store.AcquireProvisionLock(ctx, family, p.lockTTL)
	if err != nil {
		metrics.ProvisionsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	if !ok {
		metrics.ProvisionsTotal.WithLabelValues("contended").Inc()
		log.Debug().Str("family", family).Msg("provisioner: lock contended, skipping")
		return nil, ErrContended
	}
	defer func() {
		if err := p.store.ReleaseProvisionLock(ctx, family); err != nil {
			// The TTL will clean up behind us.
			log.Error().Err(err).Str("family", family).Msg("provisioner: failed to release provision lock")
		}
	}()

	// Lazy init Agones client
	if p.agones == nil {
		cli, err := newAgonesClient()
		if err != nil {
			log.Error().Err(err).Msg("provisioner: failed to initialize Agones client")
			return nil, p.fail(family, start, fmt.Errorf("agones client init failed: %w", err))
		}
		p.agones = cli
		log.Info().Msg("provisioner: Agones client initialized")
	}

	gsa := &allocationv1.GameServerAllocation{
		TypeMeta: metav1.TypeMeta{
			APIVersion: allocationv1.SchemeGroupVersion.String(),
			Kind:       "GameServerAllocation",
		},
		ObjectMeta: metav1.ObjectMeta{},
		Spec: allocationv1.GameServerAllocationSpec{
			Selectors: []allocationv1.GameServerSelector{
				{
					LabelSelector: metav1.LabelSelector{
						MatchLabels: map[string]string{
							"agones.dev/fleet": family,
						},
					},
				},
			},
		},
	}

	ns := p.namespace
	if ns == "" {
		ns = "default"
	}

	created, err := p.agones.AllocationV1().GameServerAllocations(ns).Create(ctx, gsa, metav1.CreateOptions{})
	if err != nil {
		log.Error().Err(err).Str("namespace", ns).Str("family", family).Msg("provisioner: GameServerAllocation create failed")
		return nil, p.fail(family, start, fmt.Errorf("allocation create failed: %w", err))
	}
	if created.Status.State != allocationv1.GameServerAllocationAllocated {
		log.Warn().Str("state", string(created.Status.State)).Str("namespace", ns).Str("family", family).Msg("provisioner: allocation not allocated")
		return nil, p.fail(family, start, fmt.Errorf("allocation not allocated (state=%s)", created.Status.State))
	}

	addr := created.Status.Address
	var port int32
	if len(created.Status.Ports) > 0 {
		port = created.Status.Ports[0].Port
	}
	if addr == "" || port == 0 {
		log.Error().Str("address", addr).Int32("port", port).Msg("provisioner: allocated GameServer missing address/port")
		return nil, p.fail(family, start, errors.New("allocated GameServer missing address/port"))
	}

	metrics.ProvisionsTotal.WithLabelValues("success").Inc()
	log.Info().Str("family", family).Str("gameServerName", created.Status.GameServerName).Str("addr", addr).Int32("port", port).Dur("duration", time.Since(start)).Msg("provisioner: backend provisioned")
	return &Result{GameServerName: created.Status.GameServerName, Address: addr, Port: port}, nil
}

func (p *Provisioner) fail(family string, start time.Time, err error) error {
	metrics.ProvisionsTotal.WithLabelValues("failure").Inc()
	log.Error().Err(err).Str("family", family).Dur("duration", time.Since(start)).Msg("provisioner: provisioning failed")
	return err
}

// newAgonesClient returns an Agones typed clientset using in-cluster config or local kubeconfig.
func newAgonesClient() (agonesclientset.Interface, error) {
	// Try in-cluster config first
	if cfg, err := rest.InClusterConfig(); err == nil {
		return agonesclientset.NewForConfig(cfg)
	}
	// Fallback to local kubeconfig
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	cfg, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, err
	}
	return agonesclientset.NewForConfig(cfg)
}
