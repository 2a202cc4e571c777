package bsconfig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ydb-harness/pkg/log"
	"github.com/cuemby/ydb-harness/pkg/metrics"
	"github.com/cuemby/ydb-harness/pkg/retry"
	"github.com/cuemby/ydb-harness/pkg/types"
)

const (
	// DefaultBoxID is the single box every test cluster uses
	DefaultBoxID = 1
	// DefaultTimeout bounds the retries of one request
	DefaultTimeout = 120 * time.Second
	// DefaultStep is the pause between attempts
	DefaultStep = 5 * time.Second

	defaultPoolKind  = "rot"
	defaultVDiskKind = "Default"
	defaultNumGroups = 2
)

// Host is a member as the storage controller sees it
type Host struct {
	NodeID int
	Fqdn   string
	ICPort int
}

// PoolOptions describes a pool to define. Zero values take defaults.
type PoolOptions struct {
	Name          string
	Kind          string
	PDiskUserKind uint64
	Erasure       types.Erasure
}

// Builder registers storage topology with the controller. It owns the pool
// id sequence of one cluster.
type Builder struct {
	invoker Invoker
	timeout time.Duration
	step    time.Duration
	erasure types.Erasure
	sleep   retry.SleepFunc

	lastPoolID uint64
	pools      []types.StoragePool
	logger     zerolog.Logger
	mu         sync.Mutex
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithTimeout sets the retry budget of each request
func WithTimeout(timeout time.Duration) BuilderOption {
	return func(b *Builder) {
		b.timeout = timeout
	}
}

// WithStep sets the pause between attempts
func WithStep(step time.Duration) BuilderOption {
	return func(b *Builder) {
		b.step = step
	}
}

// WithErasure sets the erasure used by pools that name none
func WithErasure(erasure types.Erasure) BuilderOption {
	return func(b *Builder) {
		b.erasure = erasure
	}
}

// WithSleep replaces the pause between attempts
func WithSleep(sleep retry.SleepFunc) BuilderOption {
	return func(b *Builder) {
		b.sleep = sleep
	}
}

// NewBuilder creates a builder sending requests through invoker
func NewBuilder(invoker Invoker, opts ...BuilderOption) *Builder {
	b := &Builder{
		invoker: invoker,
		timeout: DefaultTimeout,
		step:    DefaultStep,
		erasure: types.DefaultStaticErasure,
		sleep:   retry.Sleep,
		logger:  log.WithComponent("bsconfig"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BoxRequest builds the request declaring one host config per host and a
// box holding every host
func BoxRequest(hosts []Host, pdisks []types.PDisk) *Request {
	req := &Request{}

	for _, host := range hosts {
		hc := &DefineHostConfig{HostConfigID: uint64(host.NodeID)}
		for _, pdisk := range pdisks {
			if pdisk.NodeID != host.NodeID {
				continue
			}
			hc.Drives = append(hc.Drives, Drive{
				Path: pdisk.Path,
				Kind: pdisk.UserKind,
				Type: PDiskType(pdisk.Type),
			})
		}
		req.Commands = append(req.Commands, Command{DefineHostConfig: hc})
	}

	box := &DefineBox{BoxID: DefaultBoxID}
	for _, host := range hosts {
		box.Hosts = append(box.Hosts, BoxHost{
			Fqdn:         host.Fqdn,
			IcPort:       int32(host.ICPort),
			HostConfigID: uint64(host.NodeID),
		})
	}
	req.Commands = append(req.Commands, Command{DefineBox: box})

	return req
}

// AddBox declares the hosts and their drives
func (b *Builder) AddBox(ctx context.Context, hosts []Host, pdisks []types.PDisk) error {
	return b.Invoke(ctx, "define_box", BoxRequest(hosts, pdisks))
}

// AddStoragePool defines a pool under the next pool id and returns it. Ids
// are never reused, even when the request fails.
func (b *Builder) AddStoragePool(ctx context.Context, opts PoolOptions) (types.StoragePool, error) {
	b.mu.Lock()
	b.lastPoolID++
	id := b.lastPoolID
	b.mu.Unlock()

	pool := types.StoragePool{
		ID:        id,
		Name:      opts.Name,
		Kind:      opts.Kind,
		Erasure:   opts.Erasure,
		PDiskKind: opts.PDiskUserKind,
	}
	if pool.Name == "" {
		pool.Name = fmt.Sprintf("dynamic_storage_pool:%d", id)
	}
	if pool.Kind == "" {
		pool.Kind = defaultPoolKind
	}
	if pool.Erasure == "" {
		pool.Erasure = b.erasure
	}

	req := &Request{Commands: []Command{{DefineStoragePool: &DefineStoragePool{
		BoxID:          DefaultBoxID,
		StoragePoolID:  pool.ID,
		Name:           pool.Name,
		Kind:           pool.Kind,
		ErasureSpecies: pool.Erasure.String(),
		VDiskKind:      defaultVDiskKind,
		NumGroups:      defaultNumGroups,
		PDiskFilters: []PDiskFilter{{Properties: []PDiskProperty{
			TypeProperty(PDiskTypeROT),
			KindProperty(pool.PDiskKind),
		}}},
	}}}}

	if err := b.Invoke(ctx, "define_storage_pool", req); err != nil {
		return types.StoragePool{}, err
	}

	b.mu.Lock()
	b.pools = append(b.pools, pool)
	b.mu.Unlock()
	metrics.StoragePoolsTotal.Inc()

	b.logger.Info().
		Uint64("pool_id", pool.ID).
		Str("pool", pool.Name).
		Str("kind", pool.Kind).
		Msg("Storage pool defined")
	return pool, nil
}

// Pools returns the pools defined so far, in order
func (b *Builder) Pools() []types.StoragePool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.StoragePool(nil), b.pools...)
}

// Invoke sends req, retrying failures for the builder's timeout. The last
// failure is returned wrapped in a *ControlRequestError.
func (b *Builder) Invoke(ctx context.Context, command string, req *Request) error {
	text, err := Marshal(req)
	if err != nil {
		return err
	}

	attempts := retry.Attempts(b.timeout, b.step)
	made := 0
	err = retry.Do(ctx, attempts, b.step, func(attempt int) error {
		made = attempt
		err := b.invoker.Invoke(ctx, text)
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.ControlRequestAttemptsTotal.WithLabelValues(command, result).Inc()
		return err
	},
		retry.WithSleep(b.sleep),
		retry.WithLogger(b.logger),
		retry.WithDescription(command),
	)
	if err != nil {
		return &ControlRequestError{Command: command, Attempts: made, Err: err}
	}
	return nil
}
