package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BSControllerTabletID is the well-known id of the storage controller tablet
const BSControllerTabletID uint64 = 72057594037932033

// BSControllerProbe passes once the storage controller tablet answers on
// the monitoring page of any node
type BSControllerProbe struct {
	// Monitors are host:port monitoring endpoints, one per node
	Monitors []string
	Client   *http.Client
}

// NewBSControllerProbe creates a probe over the given monitoring endpoints
func NewBSControllerProbe(monitors ...string) *BSControllerProbe {
	return &BSControllerProbe{
		Monitors: monitors,
		Client:   &http.Client{Timeout: DefaultTimeout},
	}
}

// TabletURL returns the monitoring URL of the storage controller tablet
func TabletURL(monitor string) string {
	return fmt.Sprintf("http://%s/tablets/app?TabletID=%d", monitor, BSControllerTabletID)
}

// Check asks every monitor in turn and stops at the first that answers 200
func (p *BSControllerProbe) Check(ctx context.Context) Result {
	start := time.Now()

	var failures []string
	for _, monitor := range p.Monitors {
		checker := &HTTPChecker{
			URL:               TabletURL(monitor),
			ExpectedStatusMin: http.StatusOK,
			ExpectedStatusMax: http.StatusOK,
			Client:            p.Client,
		}
		result := checker.Check(ctx)
		if result.Healthy {
			return finish(start, true, fmt.Sprintf("storage controller started on %s", monitor))
		}
		failures = append(failures, fmt.Sprintf("%s: %s", monitor, result.Message))
	}

	if len(failures) == 0 {
		return finish(start, false, "no monitors to ask")
	}
	return finish(start, false, strings.Join(failures, "; "))
}

// Type returns the health check type
func (p *BSControllerProbe) Type() CheckType {
	return CheckTypeBSController
}
