package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/creatorstats/pkg/billing"
)

// CSVContentType is the media type of exported reports
const CSVContentType = "text/csv"

// ExportResult is the outcome of ExportCSV. A refusal has Success false and
// no Content; it is not an error.
type ExportResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content,omitempty"`
	Rows        int    `json:"rows"`
}

// ExportCSV renders the scope's report as CSV. Only the pro plan may export.
func (s *Service) ExportCSV(ctx context.Context, req ReportRequest, scope Scope) (*ExportResult, error) {
	if scope != ScopeOverview {
		if _, ok := scope.ContentType(); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
		}
	}

	r, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	plan, err := s.resolvePlan(ctx, req)
	if err != nil {
		return nil, err
	}

	if !plan.AtLeast(billing.PlanPro) {
		s.metrics.IncExportRefusal(string(scope), string(plan))
		return &ExportResult{
			Success: false,
			Message: fmt.Sprintf("CSV export requires the %s plan; current plan is %s", billing.PlanPro, plan),
		}, nil
	}

	ctx, span := s.startSpan(ctx, "analytics.ExportCSV", r)
	defer span.End()

	var header []string
	var rows [][]string

	if scope == ScopeOverview {
		report, err := s.GetOverview(ctx, ReportRequest{TenantID: r.tenantID, From: r.from, To: r.to, Plan: plan})
		if err != nil {
			return nil, err
		}
		header, rows = trendTable(report.TrendAll)
	} else {
		report, err := s.GetByContentType(ctx, ReportRequest{TenantID: r.tenantID, From: r.from, To: r.to, Plan: plan}, scope)
		if err != nil {
			return nil, err
		}
		header, rows = report.Report.csvTable()
	}

	return &ExportResult{
		Success:     true,
		Filename:    fmt.Sprintf("%s-%s-%s.csv", scope, r.from.Format(DateFormat), r.to.Format(DateFormat)),
		ContentType: CSVContentType,
		Content:     encodeCSV(header, rows),
		Rows:        len(rows),
	}, nil
}

func trendTable(trend []TrendPoint) ([]string, [][]string) {
	header := []string{"day", "views", "starts", "completes", "watch_time_seconds"}
	rows := make([][]string, 0, len(trend))
	for _, p := range trend {
		rows = append(rows, []string{
			p.Day.Format(DateFormat),
			itoa(p.Views), itoa(p.Starts), itoa(p.Completes), itoa(p.WatchTimeSeconds),
		})
	}
	return header, rows
}

// encodeCSV writes header and rows with LF line endings
func encodeCSV(header []string, rows [][]string) string {
	var b strings.Builder
	writeCSVRow(&b, header)
	for _, row := range rows {
		writeCSVRow(&b, row)
	}
	return b.String()
}

func writeCSVRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeCSVField(f))
	}
	b.WriteByte('\n')
}

// escapeCSVField quotes a field only when it contains a comma, a double
// quote or a line break, doubling embedded quotes.
func escapeCSVField(f string) string {
	if !strings.ContainsAny(f, ",\"\n\r") {
		return f
	}
	return `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
}
