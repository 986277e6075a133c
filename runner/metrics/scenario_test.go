package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perf-cascade/runner/config"
)

func TestScenarioRuleDerive(t *testing.T) {
	rule := NewScenarioRule(config.ScenarioRuleConfig{})

	tests := []struct {
		source   string
		scenario string
		users    int
	}{
		{"results/get_masivo_50.jtl", "GET Masivo", 50},
		{"POST-100users.csv", "POST Masivo", 100},
		{"/tmp/Mixed_Load_25u.jtl", "Mixto", 25},
		{"stress.jtl", "Stress", 10},
		{"run-spike-200.jtl", "Spike", 200},
		{"checkout_flow_30.jtl", "checkout flow", 30},
		{"12.jtl", "12", 12},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			scenario, users := rule.Derive(tt.source)
			assert.Equal(t, tt.scenario, scenario)
			assert.Equal(t, tt.users, users)
		})
	}
}

func TestScenarioRuleCustomDefaults(t *testing.T) {
	rule := NewScenarioRule(config.ScenarioRuleConfig{
		Keywords:     []config.KeywordConfig{{Token: "LOGIN", Scenario: "Login"}},
		DefaultUsers: 5,
	})

	scenario, users := rule.Derive("nightly_login.jtl")
	assert.Equal(t, "Login", scenario)
	assert.Equal(t, 5, users)

	// zero is not a valid user count
	_, users = rule.Derive("login_0.jtl")
	assert.Equal(t, 5, users)
}

func TestScenarioRuleConfiguredNames(t *testing.T) {
	rule := NewScenarioRule(config.ScenarioRuleConfig{}, "Login", "Login Flow", "Checkout v2")

	tests := []struct {
		source   string
		scenario string
		users    int
	}{
		{"login_flow_5u.jtl", "Login Flow", 5},
		{"login_30u.jtl", "Login", 30},
		{"checkout_v2_20u.jtl", "Checkout v2", 20},
		{"checkout_v2.jtl", "Checkout v2", 10},
		// not followed by a concurrency token, so the fallback applies
		{"login_page_10u.jtl", "login page", 10},
		{"mixto_25u.jtl", "Mixto", 25},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			scenario, users := rule.Derive(tt.source)
			assert.Equal(t, tt.scenario, scenario)
			assert.Equal(t, tt.users, users)
		})
	}
}
