package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/FranksOps/keyhound/internal/analyzer"
	"github.com/FranksOps/keyhound/internal/storage"
)

// topContainers is how many containers the summary lists.
const topContainers = 10

// ContainerStat counts findings per container.
type ContainerStat struct {
	Container string `json:"container"`
	Count     int    `json:"count"`
}

// Row is one finding as shown in a report, with the value masked.
type Row struct {
	Value     string    `json:"value"`
	Container string    `json:"container"`
	Source    string    `json:"source"`
	Language  string    `json:"language"`
	New       bool      `json:"new_container"`
	HTMLURL   string    `json:"html_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary contains aggregated figures about stored findings.
type Summary struct {
	TotalFindings      int                    `json:"total_findings"`
	DistinctValues     int                    `json:"distinct_values"`
	DistinctContainers int                    `json:"distinct_containers"`
	NewContainers      int                    `json:"new_containers"`
	Languages          []storage.LanguageStat `json:"languages"`
	Containers         []ContainerStat        `json:"top_containers"`
	Recent             []Row                  `json:"recent"`
	StartTime          time.Time              `json:"start_time"`
	EndTime            time.Time              `json:"end_time"`
	Duration           time.Duration          `json:"duration"`
}

// GenerateSummary aggregates findings. recent caps the number of rows kept,
// newest first.
func GenerateSummary(findings []*storage.Finding, recent int) Summary {
	s := Summary{
		Languages:  []storage.LanguageStat{},
		Containers: []ContainerStat{},
		Recent:     []Row{},
	}

	var live []*storage.Finding
	for _, f := range findings {
		if f != nil {
			live = append(live, f)
		}
	}
	if len(live) == 0 {
		return s
	}

	values := make(map[string]struct{})
	containers := make(map[string]int)
	languages := make(map[string]int64)

	s.StartTime = live[0].CreatedAt
	s.EndTime = live[0].CreatedAt

	for _, f := range live {
		s.TotalFindings++
		if f.NewContainer {
			s.NewContainers++
		}
		values[f.Value] = struct{}{}
		containers[f.Container]++
		languages[f.Language]++

		if f.CreatedAt.Before(s.StartTime) {
			s.StartTime = f.CreatedAt
		}
		if f.CreatedAt.After(s.EndTime) {
			s.EndTime = f.CreatedAt
		}
	}

	s.DistinctValues = len(values)
	s.DistinctContainers = len(containers)
	s.Duration = s.EndTime.Sub(s.StartTime)

	for lang, n := range languages {
		s.Languages = append(s.Languages, storage.LanguageStat{Language: lang, Count: n})
	}
	sort.Slice(s.Languages, func(i, j int) bool {
		if s.Languages[i].Count != s.Languages[j].Count {
			return s.Languages[i].Count > s.Languages[j].Count
		}
		return s.Languages[i].Language < s.Languages[j].Language
	})

	for c, n := range containers {
		s.Containers = append(s.Containers, ContainerStat{Container: c, Count: n})
	}
	sort.Slice(s.Containers, func(i, j int) bool {
		if s.Containers[i].Count != s.Containers[j].Count {
			return s.Containers[i].Count > s.Containers[j].Count
		}
		return s.Containers[i].Container < s.Containers[j].Container
	})
	if len(s.Containers) > topContainers {
		s.Containers = s.Containers[:topContainers]
	}

	sorted := make([]*storage.Finding, len(live))
	copy(sorted, live)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if recent >= 0 && len(sorted) > recent {
		sorted = sorted[:recent]
	}
	for _, f := range sorted {
		s.Recent = append(s.Recent, Row{
			Value:     analyzer.Mask(f.Value),
			Container: f.Container,
			Source:    f.Source,
			Language:  f.Language,
			New:       f.NewContainer,
			HTMLURL:   f.HTMLURL,
			CreatedAt: f.CreatedAt,
		})
	}

	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const textTmpl = `Keyhound Findings Summary
-------------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Findings:      {{.TotalFindings}}
Distinct keys: {{.DistinctValues}}
Containers:    {{.DistinctContainers}} ({{.NewContainers}} new)

Languages:
{{- range .Languages}}
  {{.Language}}: {{.Count}}
{{- else}}
  None
{{- end}}

Top Containers:
{{- range .Containers}}
  {{.Container}}: {{.Count}}
{{- else}}
  None
{{- end}}

Recent:
{{- range .Recent}}
  {{.CreatedAt.Format "2006-01-02 15:04:05"}}  {{.Value}}  {{.Container}}/{{.Source}}{{if .New}} [new]{{end}}
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Keyhound Findings Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
  .new { color: red; }
</style>
</head>
<body>
  <h1>Keyhound Findings Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Findings</div>
    <div class="stat-val">{{.TotalFindings}}</div>
  </div>
  <div class="stat-card">
    <div>Distinct Keys</div>
    <div class="stat-val">{{.DistinctValues}}</div>
  </div>
  <div class="stat-card">
    <div>Containers</div>
    <div class="stat-val">{{.DistinctContainers}}</div>
  </div>
  <div class="stat-card">
    <div>New Containers</div>
    <div class="stat-val" style="color: {{if gt .NewContainers 0}}red{{else}}green{{end}};">{{.NewContainers}}</div>
  </div>

  <h3>Languages</h3>
  <table>
    <tr><th>Language</th><th>Count</th></tr>
    {{- range .Languages}}
    <tr><td>{{.Language}}</td><td>{{.Count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Top Containers</h3>
  <table>
    <tr><th>Container</th><th>Count</th></tr>
    {{- range .Containers}}
    <tr><td>{{.Container}}</td><td>{{.Count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Recent Findings</h3>
  <table>
    <tr><th>Time</th><th>Value</th><th>Container</th><th>Source</th><th>Language</th></tr>
    {{- range .Recent}}
    <tr{{if .New}} class="new"{{end}}><td>{{.CreatedAt.Format "2006-01-02 15:04:05"}}</td><td>{{.Value}}</td><td>{{.Container}}</td><td>{{if .HTMLURL}}<a href="{{.HTMLURL}}">{{.Source}}</a>{{else}}{{.Source}}{{end}}</td><td>{{.Language}}</td></tr>
    {{- else}}
    <tr><td colspan="5">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes an HTML report to the provided writer. Container and
// file names come from third parties and are escaped.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := htmltemplate.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}
