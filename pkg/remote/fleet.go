package remote

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism caps the hosts a fleet operation touches at once
const DefaultParallelism = 16

// Fleet groups the remote nodes of one cluster. Host level operations run
// once per host, hosts in parallel.
type Fleet struct {
	nodes       []*RemoteNode
	parallelism int
}

// NewFleet creates a fleet of nodes
func NewFleet(nodes ...*RemoteNode) *Fleet {
	return &Fleet{nodes: nodes, parallelism: DefaultParallelism}
}

// SetParallelism changes how many hosts are driven concurrently
func (f *Fleet) SetParallelism(limit int) {
	if limit > 0 {
		f.parallelism = limit
	}
}

// Nodes returns every node of the fleet
func (f *Fleet) Nodes() []*RemoteNode {
	return f.nodes
}

// Hosts returns one node per distinct host, in fleet order
func (f *Fleet) Hosts() []*RemoteNode {
	seen := make(map[string]bool)
	var hosts []*RemoteNode
	for _, n := range f.nodes {
		if seen[n.Host()] {
			continue
		}
		seen[n.Host()] = true
		hosts = append(hosts, n)
	}
	return hosts
}

// PrepareAll deploys artifacts on every host
func (f *Fleet) PrepareAll(ctx context.Context, artifacts Artifacts) error {
	return f.eachHost(ctx, func(ctx context.Context, n *RemoteNode) error {
		return n.PrepareArtifacts(ctx, artifacts)
	})
}

// SwitchAll flips the binary version on every host
func (f *Fleet) SwitchAll(ctx context.Context) error {
	return f.eachHost(ctx, func(ctx context.Context, n *RemoteNode) error {
		return n.SwitchVersion(ctx)
	})
}

// CleanupAll wipes the kikimr partitions of every host
func (f *Fleet) CleanupAll(ctx context.Context) error {
	return f.eachHost(ctx, func(ctx context.Context, n *RemoteNode) error {
		return n.CleanupDisks(ctx)
	})
}

// StartAll starts every node, static nodes first
func (f *Fleet) StartAll(ctx context.Context) error {
	for _, slot := range []bool{false, true} {
		for _, n := range f.nodes {
			if n.opts.Slot != slot {
				continue
			}
			if err := n.Start(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// StopAll stops every node, slots first. A failed stop does not keep the
// remaining nodes running; all failures are returned together.
func (f *Fleet) StopAll(ctx context.Context) error {
	var result *multierror.Error
	for _, slot := range []bool{true, false} {
		for _, n := range f.nodes {
			if n.opts.Slot != slot {
				continue
			}
			if err := n.Stop(ctx); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func (f *Fleet) eachHost(ctx context.Context, fn func(context.Context, *RemoteNode) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)

	for _, n := range f.Hosts() {
		n := n
		g.Go(func() error {
			return fn(ctx, n)
		})
	}
	return g.Wait()
}
