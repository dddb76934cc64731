package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("org-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "org-1", cfg.Org.ID)
	assert.Equal(t, 48, cfg.Sprints.DisputeWindowHours)
	assert.Equal(t, "mediation", cfg.Disputes.InitialTier)
	assert.Equal(t, 2, cfg.Governance.FinalizeFailureThreshold)
	assert.InDelta(t, 1.0, cfg.QualityMultiplier(5), 1e-9)
	assert.True(t, cfg.MimeAllowed("application/pdf"))
	assert.False(t, cfg.MimeAllowed("application/x-msdownload"))
	assert.True(t, cfg.PhaseEligibleForDisputes("dispute_window"))
	assert.False(t, cfg.PhaseEligibleForDisputes("settlement"))
}

func TestFromYAMLKeepsDefaultsForOmittedKeys(t *testing.T) {
	cfg, err := FromYAML([]byte(`
org:
  id: acme
rewards:
  fixed_cap_per_sprint: 10
  emission_percent: 5
  treasury_balance: 400
`))
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Org.ID)
	assert.Equal(t, int64(10), cfg.Rewards.FixedCapPerSprint)
	assert.Equal(t, 72, cfg.Disputes.ReviewerSLAHours)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad tier":       "org: {id: x}\ndisputes: {initial_tier: supreme}\n",
		"bad percent":    "org: {id: x}\nrewards: {emission_percent: 150}\n",
		"bad action":     "org: {id: x}\nsprints: {incomplete_action: drop}\n",
		"zero threshold": "org: {id: x}\ngovernance: {finalize_failure_threshold: 0}\n",
		"missing org":    "org: {id: ''}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "organic.yml"), []byte(GenerateDefault("from-file")), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "from-file", cfg.Org.ID)
}

func TestWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`
org: {id: x}
webhooks:
  - url: https://hooks.example.org/organic
    events: [dispute.sla_escalated]
  - url: ""
    enabled: false
`))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 2)
	assert.True(t, cfg.Webhooks[0].Active())
	assert.False(t, cfg.Webhooks[1].Active())

	_, err = FromYAML([]byte("org: {id: x}\nwebhooks: [{url: ftp://nope}]\n"))
	assert.Error(t, err)
}
