package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCChecker passes when a client channel to Address reaches READY
type GRPCChecker struct {
	Address string
	Timeout time.Duration
	// CAFile enables TLS verified against the given CA bundle
	CAFile string
}

// NewGRPCChecker creates a checker for a plain-text gRPC endpoint
func NewGRPCChecker(address string) *GRPCChecker {
	return &GRPCChecker{
		Address: address,
		Timeout: DefaultTimeout,
	}
}

// WithTLS verifies the endpoint against caFile
func (g *GRPCChecker) WithTLS(caFile string) *GRPCChecker {
	g.CAFile = caFile
	return g
}

// Check performs the gRPC connectivity check
func (g *GRPCChecker) Check(ctx context.Context) Result {
	start := time.Now()

	creds := insecure.NewCredentials()
	if g.CAFile != "" {
		tlsCreds, err := credentials.NewClientTLSFromFile(g.CAFile, "")
		if err != nil {
			return finish(start, false, fmt.Sprintf("failed to load CA: %v", err))
		}
		creds = tlsCreds
	}

	conn, err := grpc.NewClient(g.Address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return finish(start, false, fmt.Sprintf("failed to create client: %v", err))
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return finish(start, true, fmt.Sprintf("gRPC channel to %s ready", g.Address))
		}
		if !conn.WaitForStateChange(ctx, state) {
			return finish(start, false, fmt.Sprintf("gRPC channel to %s stuck in %s", g.Address, state))
		}
	}
}

// Type returns the health check type
func (g *GRPCChecker) Type() CheckType {
	return CheckTypeGRPC
}
