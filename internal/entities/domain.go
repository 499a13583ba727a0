package entities

import (
	"time"
)

// Status is the lifecycle state of a queued domain.
type Status string

// Statuses a queued domain can be in. A domain that passed verification
// is promoted into the proxy config and leaves the queue entirely.
const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Entry is a single queued domain awaiting DNS verification.
type Entry struct {
	Upstream string    `json:"upstream"`
	AddedAt  time.Time `json:"added_at"`
	Status   Status    `json:"status"`
}

// Entries holds domain name -> Entry.
type Entries map[string]Entry

// QueuedDomain is an Entry together with its domain name,
// as exposed by the listing API.
type QueuedDomain struct {
	Domain   string    `json:"domain"`
	Upstream string    `json:"upstream"`
	AddedAt  time.Time `json:"added_at"`
	Status   Status    `json:"status"`
}

// RecordCheck is the outcome of a single DNS record verification.
type RecordCheck struct {
	Type     string   `json:"type"`
	Expected string   `json:"expected"`
	Resolved []string `json:"resolved"`
	Verified bool     `json:"verified"`
}

// VerificationResult describes the full state of a verify call,
// including negative outcomes. "Not yet verified" is a normal result,
// not an error.
type VerificationResult struct {
	Domain      string        `json:"domain"`
	ServerIP    string        `json:"server_ip"`
	QueueStatus string        `json:"queue_status"`
	Records     []RecordCheck `json:"records"`
	AVerified   bool          `json:"domain_verified"`
	TXTVerified bool          `json:"txt_verified"`
}

// DomainList is the full inventory of domains known to the system.
type DomainList struct {
	Live    []LiveDomain   `json:"verified"`
	Pending []QueuedDomain `json:"pending"`
	Failed  []QueuedDomain `json:"failed"`
}

// LiveDomain is a domain present in the proxy's active configuration,
// optionally enriched with certificate health info.
type LiveDomain struct {
	Domain string    `json:"domain"`
	Cert   *CertInfo `json:"cert,omitempty"`
}

// CertInfo is a report-only snapshot of a live domain's certificate.
type CertInfo struct {
	ExpiredAt *time.Time `json:"expired_at"`
	Valid     bool       `json:"valid"`
}
