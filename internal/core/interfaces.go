package core

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// Detector inspects one target and reports findings. Probe failures are
// handled inside the detector; a returned error means the detector could
// not run at all.
type Detector interface {
	Name() string
	Category() types.Category
	Run(ctx context.Context, target *url.URL, caps Capabilities) ([]types.Finding, error)
}

// Capabilities are handed to every detector run.
type Capabilities struct {
	Prober Prober
	// Timeout bounds each injection or content probe.
	Timeout time.Duration
	// PageTimeout bounds the representative GET of the landing page.
	PageTimeout time.Duration
}

// Prober performs single HTTP exchanges. It never returns Go errors for
// ordinary HTTP or network failures; those come back inside ProbeResult.
type Prober interface {
	Get(ctx context.Context, rawURL string, opts GetOptions) ProbeResult
	PostForm(ctx context.Context, rawURL string, form url.Values, timeout time.Duration) ProbeResult
}

type GetOptions struct {
	Timeout         time.Duration
	FollowRedirects bool
}

type Response struct {
	Status  int
	Headers http.Header
	Body    string
	// URL is the final URL after redirects.
	URL string
}

// ProbeResult holds exactly one of Response or Err.
type ProbeResult struct {
	Response *Response
	Err      *ProbeError
}

func (r ProbeResult) OK() bool {
	return r.Err == nil && r.Response != nil
}

// PortScanner enumerates open ports on a host.
type PortScanner interface {
	ScanPorts(ctx context.Context, host string) ([]types.OpenPort, error)
}

// AlertSource is an external dynamic scanner producing alerts for a target.
type AlertSource interface {
	Name() string
	Alerts(ctx context.Context, target *url.URL) ([]types.Alert, error)
}

type JobQueue interface {
	Push(ctx context.Context, job *types.Job) error
	Pop(ctx context.Context, workerID string) (*types.Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, reason string) error
	// Retry puts a popped job back on the pending queue.
	Retry(ctx context.Context, jobID string) error
	GetStatus(ctx context.Context, jobID string) (*types.Job, error)
	Close() error
}

type ResultStore interface {
	SaveScan(ctx context.Context, scan *types.Scan) error
	UpdateScanStatus(ctx context.Context, scanID string, status types.ScanStatus, errorMessage string) error
	GetScan(ctx context.Context, scanID string) (*types.Scan, error)
	ListScans(ctx context.Context, filter ScanFilter) ([]*types.Scan, error)

	// SaveFinding stores a single finding; findings are never batched so a
	// crash mid-scan keeps what was already produced.
	SaveFinding(ctx context.Context, finding types.Finding) error
	GetFindings(ctx context.Context, scanID string) ([]types.Finding, error)

	SaveDetectorFailure(ctx context.Context, failure types.DetectorFailure) error
	GetDetectorFailures(ctx context.Context, scanID string) ([]types.DetectorFailure, error)

	Ping(ctx context.Context) error
	Close() error
}

type ScanFilter struct {
	Target string
	Status types.ScanStatus
	Limit  int
	Offset int
}

type Exporter interface {
	Name() string
	Export(report *types.Report, writer io.Writer) error
	FileExtension() string
}

type Telemetry interface {
	RecordScan(profile types.ScanProfile, duration float64, status types.ScanStatus)
	RecordFinding(finding types.Finding)
	RecordDetectorFailure(detector string)
	Close() error
}
