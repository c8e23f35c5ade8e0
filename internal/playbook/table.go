package playbook

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"riskgraph/internal/risk"
	"riskgraph/pkg/models"
)

// GenericTriageID is the catch-all playbook guaranteeing every scored
// incident gets an assignment.
const GenericTriageID = "generic_triage"

// Playbook is a deterministic response procedure.
type Playbook struct {
	ID    string   `yaml:"id"`
	Title string   `yaml:"title"`
	Steps []string `yaml:"steps"`
}

// Text renders the playbook as the incident's response text.
func (p Playbook) Text() string {
	var b strings.Builder
	b.WriteString(p.Title)
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "\n%d. %s", i+1, step)
	}
	return b.String()
}

// Rule is one decision table row. A row matches when the incident's
// signal set contains every required signal and its risk and fidelity
// buckets appear in the row's lists; an empty list accepts any bucket.
type Rule struct {
	PlaybookID      string   `yaml:"playbook_id"`
	RequiredSignals []string `yaml:"required_signals"`
	RiskBuckets     []string `yaml:"risk_buckets"`
	FidelityBuckets []string `yaml:"fidelity_buckets"`
}

func (r Rule) isCatchAll() bool {
	return len(r.RequiredSignals) == 0 && len(r.RiskBuckets) == 0 && len(r.FidelityBuckets) == 0
}

func (r Rule) matches(signalNames map[string]struct{}, riskBucket, fidelityBucket string) bool {
	for _, required := range r.RequiredSignals {
		if _, ok := signalNames[required]; !ok {
			return false
		}
	}
	if len(r.RiskBuckets) > 0 && !contains(r.RiskBuckets, riskBucket) {
		return false
	}
	if len(r.FidelityBuckets) > 0 && !contains(r.FidelityBuckets, fidelityBucket) {
		return false
	}
	return true
}

// Table is an ordered decision table over risk signals and score
// buckets. Construction guarantees totality: the last row is always a
// catch-all mapping to a defined playbook.
type Table struct {
	rules     []Rule
	playbooks map[string]Playbook
}

// tableFile is the YAML form of a custom table.
type tableFile struct {
	Playbooks []Playbook `yaml:"playbooks"`
	Rules     []Rule     `yaml:"rules"`
}

// DefaultTable returns the built-in playbook catalog and decision rows.
func DefaultTable() *Table {
	t, err := newTable(builtinRules(), nil)
	if err != nil {
		// Built-ins are validated by tests; reaching this is a bug.
		panic(err)
	}
	return t
}

// LoadTable reads a custom decision table. Custom rows replace the
// built-in rows; custom playbooks overlay the built-in catalog, so rows
// may reference either.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook table: %w", err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse playbook table: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("playbook table %s declares no rules", path)
	}

	return newTable(file.Rules, file.Playbooks)
}

func newTable(rules []Rule, extraPlaybooks []Playbook) (*Table, error) {
	playbooks := make(map[string]Playbook, len(builtinPlaybooks)+len(extraPlaybooks))
	for _, p := range builtinPlaybooks {
		playbooks[p.ID] = p
	}
	for _, p := range extraPlaybooks {
		if p.ID == "" {
			return nil, fmt.Errorf("playbook with empty id")
		}
		playbooks[p.ID] = p
	}

	hasCatchAll := false
	for i, r := range rules {
		if r.PlaybookID == "" {
			return nil, fmt.Errorf("rule %d has no playbook_id", i)
		}
		if _, ok := playbooks[r.PlaybookID]; !ok {
			return nil, fmt.Errorf("rule %d references unknown playbook %q", i, r.PlaybookID)
		}
		for _, bucket := range r.RiskBuckets {
			if !validBucket(bucket) {
				return nil, fmt.Errorf("rule %d has unknown risk bucket %q", i, bucket)
			}
		}
		for _, bucket := range r.FidelityBuckets {
			if !validBucket(bucket) {
				return nil, fmt.Errorf("rule %d has unknown fidelity bucket %q", i, bucket)
			}
		}
		if r.isCatchAll() {
			hasCatchAll = true
		}
	}

	if !hasCatchAll {
		rules = append(append([]Rule(nil), rules...), Rule{PlaybookID: GenericTriageID})
	}

	return &Table{rules: rules, playbooks: playbooks}, nil
}

// Select returns the playbook of the first matching row. Totality of the
// table means a playbook is always returned.
func (t *Table) Select(in *models.Incident) Playbook {
	signalNames := make(map[string]struct{}, len(in.Signals))
	for _, s := range in.Signals {
		signalNames[s.Name] = struct{}{}
	}
	riskBucket := risk.RiskBucket(in.RiskScore)
	fidelityBucket := risk.FidelityBucket(in.FidelityScore)

	for _, r := range t.rules {
		if r.matches(signalNames, riskBucket, fidelityBucket) {
			return t.playbooks[r.PlaybookID]
		}
	}
	return t.playbooks[GenericTriageID]
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func validBucket(b string) bool {
	switch b {
	case risk.BucketLow, risk.BucketMedium, risk.BucketHigh, risk.BucketCritical:
		return true
	}
	return false
}

var builtinPlaybooks = []Playbook{
	{
		ID:    "credential_compromise_response",
		Title: "Credential compromise response",
		Steps: []string{
			"Disable interactive sign-in for the affected account",
			"Revoke active sessions and refresh tokens",
			"Force password reset with out-of-band identity verification",
			"Review authentication history for lateral movement",
			"Re-enable access after MFA re-enrollment",
		},
	},
	{
		ID:    "malware_containment",
		Title: "Malware containment",
		Steps: []string{
			"Isolate the affected host from the network",
			"Capture volatile memory and triage artifacts",
			"Sweep the estate for matching rule indicators",
			"Reimage or restore the host from a known-good baseline",
		},
	},
	{
		ID:    "insider_threat_review",
		Title: "Insider threat review",
		Steps: []string{
			"Preserve access logs for the review window",
			"Compare activity against role-based access expectations",
			"Engage HR/legal before any user contact",
			"Document findings and disposition",
		},
	},
	{
		ID:    "account_watchlist",
		Title: "Account watchlist",
		Steps: []string{
			"Add the account to enhanced monitoring",
			"Lower alerting thresholds for the entity for 14 days",
			"Review at next scheduled triage",
		},
	},
	{
		ID:    GenericTriageID,
		Title: "Generic triage",
		Steps: []string{
			"Review correlated events and scoring signals",
			"Confirm business context with the asset or account owner",
			"Close as benign or promote to a targeted response",
		},
	},
}

func builtinRules() []Rule {
	return []Rule{
		{
			PlaybookID:      "credential_compromise_response",
			RequiredSignals: []string{risk.SignalFailedLoginBurst, risk.SignalNewDevice},
			RiskBuckets:     []string{risk.BucketHigh, risk.BucketCritical},
		},
		{
			PlaybookID:      "credential_compromise_response",
			RequiredSignals: []string{risk.SignalImpossibleTravel},
			RiskBuckets:     []string{risk.BucketHigh, risk.BucketCritical},
		},
		{
			PlaybookID:      "malware_containment",
			RequiredSignals: []string{risk.SignalRuleMatch},
			RiskBuckets:     []string{risk.BucketHigh, risk.BucketCritical},
		},
		{
			PlaybookID:      "insider_threat_review",
			RequiredSignals: []string{risk.SignalAfterHours},
			RiskBuckets:     []string{risk.BucketMedium, risk.BucketHigh, risk.BucketCritical},
			FidelityBuckets: []string{risk.BucketMedium, risk.BucketHigh},
		},
		{
			PlaybookID:      "account_watchlist",
			RequiredSignals: []string{risk.SignalAnomaly},
			RiskBuckets:     []string{risk.BucketMedium},
		},
		{PlaybookID: GenericTriageID},
	}
}
