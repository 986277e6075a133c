package evidence

import (
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/perf-cascade/runner/types"
)

const htmlReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Performance Analysis {{.RunID}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
            line-height: 1.6;
            color: #333;
            max-width: 1200px;
            margin: 0 auto;
            padding: 20px;
        }
        h1, h2 { color: #2c3e50; }
        .summary {
            background-color: #f8f9fa;
            border-radius: 5px;
            padding: 20px;
            margin-bottom: 20px;
        }
        .warning {
            background-color: #fff3cd;
            border: 1px solid #ffc107;
            border-radius: 5px;
            padding: 12px 20px;
            margin-bottom: 20px;
        }
        table { width: 100%; border-collapse: collapse; margin-bottom: 20px; }
        th, td { padding: 10px 14px; text-align: left; border-bottom: 1px solid #ddd; }
        th { background-color: #f2f2f2; }
        tr:hover { background-color: #f5f5f5; }
        .badge {
            display: inline-block;
            padding: 3px 7px;
            border-radius: 3px;
            font-size: 12px;
            font-weight: bold;
        }
        .tier-excellent { background-color: #28a745; color: white; }
        .tier-good { background-color: #17a2b8; color: white; }
        .tier-fair { background-color: #ffc107; color: #212529; }
        .tier-poor { background-color: #fd7e14; color: white; }
        .tier-unacceptable { background-color: #dc3545; color: white; }
    </style>
</head>
<body>
    <h1>Performance Analysis</h1>
    <div class="summary">
        <p><strong>Run:</strong> {{.RunID}}</p>
        <p><strong>Generated:</strong> {{.Generated}}</p>
        <p><strong>Data source:</strong> {{.Provenance}}</p>
        <p><strong>Environment:</strong> {{.Env.OS}} {{.Env.Architecture}}, {{.Env.CPUCores}} cores, {{printf "%.1f" .Env.TotalMemoryGB}} GB{{if .Env.LoadTool}}, {{.Env.LoadTool}}{{end}}</p>
        <p><strong>Functional tests:</strong> {{.FunctionalLine}}</p>
    </div>
    {{if not .Measured}}
    <div class="warning">These metrics are not measured data: {{.Provenance}}.</div>
    {{end}}

    <h2>Metrics</h2>
    <table>
        <tr>
            <th>Scenario</th><th>Users</th><th>Avg</th><th>P90</th><th>P95</th><th>Max</th>
            <th>Throughput</th><th>Errors</th><th>Samples</th><th>Tier</th>
        </tr>
        {{range .Metrics}}
        <tr>
            <td>{{.ScenarioName}}</td>
            <td>{{.ConcurrentUsers}}</td>
            <td>{{ms .AvgMs}}</td>
            <td>{{ms .P90Ms}}</td>
            <td>{{ms .P95Ms}}</td>
            <td>{{ms .MaxMs}}</td>
            <td>{{printf "%.1f req/s" .ThroughputPerSec}}</td>
            <td>{{printf "%.2f%%" .ErrorRatePct}}</td>
            <td>{{.SampleCount}}</td>
            <td><span class="badge {{tierClass .Tier}}">{{.Tier}}</span></td>
        </tr>
        {{end}}
    </table>

    {{if .Comparison}}
    <h2>Comparison</h2>
    <pre>{{.Comparison}}</pre>
    {{end}}

    {{if .Notes}}
    <h2>Notes</h2>
    <ul>
        {{range .Notes}}<li>{{.}}</li>{{end}}
    </ul>
    {{end}}
</body>
</html>
`

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"ms": func(v float64) string {
		if v == 0 {
			return "N/A"
		}
		return fmt.Sprintf("%.1f ms", v)
	},
	"tierClass": func(t types.Tier) string {
		switch t {
		case types.TierExcellent:
			return "tier-excellent"
		case types.TierGood:
			return "tier-good"
		case types.TierFair:
			return "tier-fair"
		case types.TierPoor:
			return "tier-poor"
		default:
			return "tier-unacceptable"
		}
	},
}).Parse(htmlReportTemplate))

type htmlReportData struct {
	RunID          string
	Generated      string
	Provenance     string
	Measured       bool
	Env            types.EnvironmentInfo
	FunctionalLine string
	Metrics        []types.ScoredMetric
	Comparison     string
	Notes          []string
}

func writeHTMLReport(path string, bundle Bundle) error {
	f := bundle.Functional
	functional := fmt.Sprintf("not executed (%s)", f.Message)
	if f.Executed {
		functional = fmt.Sprintf("%d run, %d failures, %d errors, %d skipped", f.Total, f.Failures, f.Errors, f.Skipped)
	}

	data := htmlReportData{
		RunID:          bundle.RunID,
		Generated:      time.Now().Format(time.RFC1123),
		Provenance:     bundle.Performance.Provenance.Describe(),
		Measured:       bundle.Performance.Provenance.IsMeasured(),
		Env:            bundle.Environment,
		FunctionalLine: functional,
		Metrics:        bundle.Performance.Metrics,
		Comparison:     bundle.Comparison,
		Notes:          bundle.Performance.Notes,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := reportTemplate.Execute(file, data); err != nil {
		return fmt.Errorf("failed to execute report template: %w", err)
	}
	return nil
}
