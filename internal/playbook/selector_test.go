package playbook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskgraph/config"
	"riskgraph/internal/risk"
	"riskgraph/pkg/models"
)

type fakeGenerator struct {
	text    string
	err     error
	block   bool
	called  bool
	summary models.Summary
}

func (g *fakeGenerator) Generate(ctx context.Context, summary models.Summary) (string, error) {
	g.called = true
	g.summary = summary
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.text, g.err
}

func scoredIncident(riskScore, fidelityScore float64, signalNames ...string) *models.Incident {
	signals := make([]models.Signal, 0, len(signalNames))
	for _, name := range signalNames {
		signals = append(signals, models.Signal{Name: name, Value: 1, Weight: 10, Contribution: 10})
	}
	return &models.Incident{
		IncidentID:    "inc-1",
		EntityIDs:     []string{"alice"},
		Events:        []*models.Event{{EntityID: "alice", EventType: "login_failed"}},
		RiskScore:     riskScore,
		FidelityScore: fidelityScore,
		Severity:      risk.Severity(riskScore),
		Signals:       signals,
		Status:        models.StatusScored,
	}
}

func TestAssignLifecycle(t *testing.T) {
	s := NewSelector(config.PlaybookConfig{}, nil, nil)
	in := scoredIncident(80, 70, risk.SignalFailedLoginBurst, risk.SignalNewDevice)

	require.NoError(t, s.Assign(context.Background(), in))
	assert.Equal(t, "credential_compromise_response", in.PlaybookID)
	assert.NotEmpty(t, in.PlaybookText)
	assert.Equal(t, models.StatusFinalized, in.Status)
	assert.False(t, in.FinalizedAt.IsZero())
}

func TestAssignRejectsNonScoredStates(t *testing.T) {
	s := NewSelector(config.PlaybookConfig{}, nil, nil)

	open := scoredIncident(50, 50)
	open.Status = models.StatusOpen
	assert.Error(t, s.Assign(context.Background(), open))

	finalized := scoredIncident(50, 50)
	require.NoError(t, s.Assign(context.Background(), finalized))
	err := s.Assign(context.Background(), finalized)
	require.Error(t, err, "finalized incidents are immutable")
	assert.Contains(t, err.Error(), "immutable")
}

func TestEscalationReplacesTextOnSuccess(t *testing.T) {
	gen := &fakeGenerator{text: "tailored containment plan"}
	s := NewSelector(config.PlaybookConfig{}, nil, gen)
	in := scoredIncident(90, 80, risk.SignalFailedLoginBurst, risk.SignalNewDevice)

	require.NoError(t, s.Assign(context.Background(), in))
	assert.True(t, gen.called)
	assert.Equal(t, "tailored containment plan", in.PlaybookText)
	assert.Equal(t, "credential_compromise_response", in.PlaybookID,
		"the deterministic assignment remains the incident's playbook identity")
	assert.Equal(t, models.StatusFinalized, in.Status)

	// Only the non-PII summary crosses the boundary.
	assert.Equal(t, in.IncidentID, gen.summary.IncidentID)
	assert.Equal(t, 1, gen.summary.EventCount)
}

func TestEscalationTimeoutFallsBackAndFinalizes(t *testing.T) {
	gen := &fakeGenerator{block: true}
	s := NewSelector(config.PlaybookConfig{AdvancedGenerationTimeout: 20 * time.Millisecond}, nil, gen)
	in := scoredIncident(90, 80, risk.SignalFailedLoginBurst, risk.SignalNewDevice)

	start := time.Now()
	require.NoError(t, s.Assign(context.Background(), in))
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, models.StatusFinalized, in.Status)
	assert.Equal(t, "credential_compromise_response", in.PlaybookID)
	assert.Equal(t, DefaultTable().Select(in).Text(), in.PlaybookText,
		"timeout keeps the deterministic playbook text")
}

func TestEscalationErrorKeepsDeterministicText(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	s := NewSelector(config.PlaybookConfig{}, nil, gen)
	in := scoredIncident(75, 65, risk.SignalImpossibleTravel)

	require.NoError(t, s.Assign(context.Background(), in))
	assert.Equal(t, models.StatusFinalized, in.Status)
	assert.NotEmpty(t, in.PlaybookText)
}

func TestNoEscalationBelowThresholds(t *testing.T) {
	cases := []struct {
		name     string
		risk     float64
		fidelity float64
	}{
		{"risk below", 60, 90},
		{"fidelity below", 90, 50},
		{"both below", 30, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{text: "should not be used"}
			s := NewSelector(config.PlaybookConfig{}, nil, gen)
			in := scoredIncident(tc.risk, tc.fidelity)

			require.NoError(t, s.Assign(context.Background(), in))
			assert.False(t, gen.called)
			assert.Equal(t, models.StatusFinalized, in.Status)
		})
	}
}
