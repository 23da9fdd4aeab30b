package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert       string            `yaml:"alert"`
			Expr        string            `yaml:"expr"`
			For         string            `yaml:"for"`
			Labels      map[string]string `yaml:"labels"`
			Annotations map[string]string `yaml:"annotations"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

// exported lists metric families this module emits; rules may only query these.
var exported = []string{
	"branchledger_http_requests_total",
	"branchledger_http_request_duration_seconds",
	"branchledger_ledger_postings_total",
	"branchledger_ledger_posting_duration_seconds",
	"branchledger_jobs_total",
	"branchledger_jobs_failures_total",
	"branchledger_job_duration_seconds",
}

var metricName = regexp.MustCompile(`branchledger_[a-z_]+`)

func repoFile(t *testing.T, parts ...string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(append([]string{"..", ".."}, parts...)...))
	require.NoError(t, err)
	return data
}

// anchors returns the GitHub-style anchors of the level-two headings in md.
func anchors(md string) map[string]bool {
	out := map[string]bool{}
	for _, line := range strings.Split(md, "\n") {
		heading, ok := strings.CutPrefix(line, "## ")
		if !ok {
			continue
		}
		out[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(heading)), " ", "-")] = true
	}
	return out
}

func TestLedgerAlertRules(t *testing.T) {
	var rules ruleFile
	require.NoError(t, yaml.Unmarshal(repoFile(t, "deploy", "prometheus", "alerts", "branchledger.yml"), &rules))
	require.Len(t, rules.Groups, 1)
	require.Equal(t, "ledger", rules.Groups[0].Name)

	runbook := anchors(string(repoFile(t, "docs", "runbook-ledger.md")))
	severities := map[string]string{
		"LedgerPersistenceFailures": "critical",
		"HighErrorRate":             "critical",
		"HighPostingLatency":        "warning",
		"JobFailures":               "warning",
	}
	require.Len(t, rules.Groups[0].Rules, len(severities))

	for _, rule := range rules.Groups[0].Rules {
		t.Run(rule.Alert, func(t *testing.T) {
			want, ok := severities[rule.Alert]
			require.True(t, ok, "unexpected rule")
			assert.Equal(t, want, rule.Labels["severity"])
			assert.NotEmpty(t, rule.For)
			assert.NotEmpty(t, rule.Annotations["summary"])
			assert.NotEmpty(t, rule.Annotations["description"])

			doc, anchor, found := strings.Cut(rule.Annotations["runbook"], "#")
			require.True(t, found)
			assert.Equal(t, "docs/runbook-ledger.md", doc)
			assert.True(t, runbook[anchor], "runbook has no section #%s", anchor)

			for _, name := range metricName.FindAllString(rule.Expr, -1) {
				name = strings.TrimSuffix(name, "_bucket")
				assert.Contains(t, exported, name)
			}
		})
	}
}
