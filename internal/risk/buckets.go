package risk

// Bucket labels shared by severity banding and playbook selection.
const (
	BucketLow      = "low"
	BucketMedium   = "medium"
	BucketHigh     = "high"
	BucketCritical = "critical"
)

// RiskBucket bands a risk score. Edges belong to the upper bucket.
func RiskBucket(score float64) string {
	switch {
	case score >= 85:
		return BucketCritical
	case score >= 70:
		return BucketHigh
	case score >= 40:
		return BucketMedium
	default:
		return BucketLow
	}
}

// FidelityBucket bands a fidelity score.
func FidelityBucket(score float64) string {
	switch {
	case score >= 70:
		return BucketHigh
	case score >= 45:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Severity maps a risk score to the incident severity label.
func Severity(riskScore float64) string {
	return RiskBucket(riskScore)
}
