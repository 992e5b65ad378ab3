package types

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from lowest to highest.
var Severities = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank orders severities: info < low < medium < high < critical.
// Unknown values rank below info.
func (s Severity) Rank() int {
	for i, sev := range Severities {
		if sev == s {
			return i
		}
	}
	return -1
}

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() < 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Category identifies which detector family produced a finding.
type Category string

const (
	CategoryHeaders  Category = "headers"
	CategoryPorts    Category = "ports"
	CategoryXSS      Category = "xss"
	CategorySQLi     Category = "sqli"
	CategoryVersion  Category = "version"
	CategoryExternal Category = "external"
)

type ScanProfile string

const (
	ProfileQuick ScanProfile = "quick"
	ProfileFull  ScanProfile = "full"
)

func ParseProfile(s string) (ScanProfile, error) {
	switch p := ScanProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case ProfileQuick, ProfileFull:
		return p, nil
	case "":
		return ProfileQuick, nil
	default:
		return "", fmt.Errorf("unknown scan profile %q (expected quick or full)", s)
	}
}

type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s ScanStatus) Terminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed || s == ScanStatusCancelled
}

// Evidence is detector-specific and opaque to the orchestrator and scorer.
type Evidence map[string]interface{}

// Finding is one security observation. It is never modified after the
// producing detector returns it.
type Finding struct {
	ID             string    `json:"id" db:"id" yaml:"id"`
	ScanID         string    `json:"scan_id" db:"scan_id" yaml:"scan_id"`
	Sequence       int       `json:"sequence" db:"sequence" yaml:"sequence"`
	Detector       string    `json:"detector" db:"detector" yaml:"detector"`
	Category       Category  `json:"category" db:"category" yaml:"category"`
	Severity       Severity  `json:"severity" db:"severity" yaml:"severity"`
	CVSSScore      float64   `json:"cvss_score" db:"cvss_score" yaml:"cvss_score"`
	Title          string    `json:"title" db:"title" yaml:"title"`
	Description    string    `json:"description" db:"description" yaml:"description"`
	Recommendation string    `json:"recommendation" db:"recommendation" yaml:"recommendation"`
	Evidence       Evidence  `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty" db:"fingerprint" yaml:"fingerprint,omitempty"`
	CreatedAt      time.Time `json:"created_at" db:"created_at" yaml:"created_at"`
}

type Scan struct {
	ID           string      `json:"id" db:"id" yaml:"id"`
	TargetURL    string      `json:"target_url" db:"target_url" yaml:"target_url"`
	Profile      ScanProfile `json:"profile" db:"profile" yaml:"profile"`
	Status       ScanStatus  `json:"status" db:"status" yaml:"status"`
	ErrorMessage string      `json:"error_message,omitempty" db:"error_message" yaml:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at" yaml:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty" db:"started_at" yaml:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty" db:"completed_at" yaml:"completed_at,omitempty"`
}

// DetectorFailure records a detector that could not complete. It is
// distinct from a detector that ran and found nothing.
type DetectorFailure struct {
	ScanID    string    `json:"scan_id,omitempty" db:"scan_id" yaml:"scan_id,omitempty"`
	Detector  string    `json:"detector" db:"detector" yaml:"detector"`
	Reason    string    `json:"reason" db:"reason" yaml:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at" yaml:"created_at"`
}

type ScanOutcome struct {
	ScanID           string            `json:"scan_id"`
	Status           ScanStatus        `json:"status"`
	Findings         []Finding         `json:"findings"`
	DetectorFailures []DetectorFailure `json:"detector_failures"`
}

type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type RiskScore struct {
	Counts        map[Severity]int `json:"counts" yaml:"counts"`
	WeightedTotal int              `json:"weighted_total" yaml:"weighted_total"`
	Level         RiskLevel        `json:"level" yaml:"level"`
}

type Summary struct {
	Total      int              `json:"total" yaml:"total"`
	BySeverity map[Severity]int `json:"by_severity" yaml:"by_severity"`
	ByCategory map[Category]int `json:"by_category" yaml:"by_category"`
}

// OpenPort is one open port reported by the port enumeration collaborator.
type OpenPort struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Service  string `json:"service"`
	Version  string `json:"version,omitempty"`
}

// Alert is a record produced by an external dynamic scanner.
type Alert struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Risk        string `json:"risk"`
	URL         string `json:"url"`
	Param       string `json:"param"`
	Evidence    string `json:"evidence"`
	Solution    string `json:"solution"`
	Reference   string `json:"reference"`
	CWEID       string `json:"cweid,omitempty"`
	WASCID      string `json:"wascid,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Job is a queued scan execution request.
type Job struct {
	ID        string      `json:"id"`
	ScanID    string      `json:"scan_id"`
	TargetURL string      `json:"target_url"`
	Profile   ScanProfile `json:"profile"`
	Status    string      `json:"status"`
	Retries   int         `json:"retries"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type WorkerStatus struct {
	ID           string    `json:"id"`
	Hostname     string    `json:"hostname"`
	Status       string    `json:"status"`
	CurrentJob   string    `json:"current_job,omitempty"`
	JobsComplete int       `json:"jobs_complete"`
	LastPing     time.Time `json:"last_ping"`
}

// Report bundles everything known about one scan for export.
type Report struct {
	Scan             Scan              `json:"scan" yaml:"scan"`
	Findings         []Finding         `json:"findings" yaml:"findings"`
	DetectorFailures []DetectorFailure `json:"detector_failures" yaml:"detector_failures"`
	Risk             RiskScore         `json:"risk" yaml:"risk"`
	Summary          Summary           `json:"summary" yaml:"summary"`
	GeneratedAt      time.Time         `json:"generated_at" yaml:"generated_at"`
}
