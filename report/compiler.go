// Package report compiles the unified report: a deterministic fold
// over the persisted execution once every approved property's call
// chain is terminal. Compilation is idempotent — recompiling a
// delivered execution returns the stored report unchanged.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/ext"
	"github.com/canvasshq/canvass/flow"
	"github.com/canvasshq/canvass/id"
)

// Compiler builds and delivers unified reports.
type Compiler struct {
	machine    *flow.Machine
	notifier   collab.Notifier
	extensions *ext.Registry
	logger     *slog.Logger
}

// NewCompiler creates a Compiler. Notifier and extensions may be nil.
func NewCompiler(machine *flow.Machine, notifier collab.Notifier, extensions *ext.Registry, logger *slog.Logger) *Compiler {
	return &Compiler{machine: machine, notifier: notifier, extensions: extensions, logger: logger}
}

// Compile builds the report for an execution in report generation and
// advances it to report delivery. Called again after delivery it
// returns the stored report without rebuilding. Any other phase fails
// with canvass.ErrReportNotReady.
func (c *Compiler) Compile(ctx context.Context, execID id.ExecutionID) (*execution.UnifiedReport, error) {
	e, err := c.machine.Get(ctx, execID)
	if err != nil {
		return nil, err
	}

	switch e.Phase {
	case execution.PhaseReportDelivery:
		// Already compiled; a crash between compile and notify lands here.
		return e.Report, nil
	case execution.PhaseReportGeneration:
	default:
		return nil, fmt.Errorf("%w: execution %s is in phase %s", canvass.ErrReportNotReady, execID, e.Phase)
	}

	report := Assemble(e)

	e, err = c.machine.Apply(ctx, execID, execution.EventReportCompiled, func(e *execution.Execution) error {
		e.Report = report
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.extensions != nil {
		c.extensions.EmitReportCompiled(ctx, e, report)
	}

	c.logger.Info("report compiled",
		slog.String("execution_id", execID.String()),
		slog.String("report_id", report.ID.String()),
		slog.Int("entries", len(report.Entries)),
	)

	if c.notifier != nil {
		// Delivery is best effort: the report is durable and readable
		// through the API regardless.
		if err := c.notifier.NotifyReportReady(ctx, report); err != nil {
			c.logger.Warn("report delivery notification failed",
				slog.String("execution_id", execID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return report, nil
}

// Assemble folds the execution into a unified report. Pure except for
// the generated id and timestamp; entries are ordered by property id
// so repeated assembly yields the same document body.
func Assemble(e *execution.Execution) *execution.UnifiedReport {
	report := &execution.UnifiedReport{
		ID:          id.NewReportID(),
		ExecutionID: e.ID,
		GeneratedAt: time.Now().UTC(),
		Criteria:    e.Criteria,
		Summary: execution.ReportSummary{
			PropertiesFound:    len(e.Properties),
			PropertiesApproved: len(e.ApprovedIDs),
		},
	}

	for _, prop := range e.ApprovedProperties() {
		pid := prop.ID.String()
		entry := execution.ReportEntry{
			Property: prop,
			Location: e.Locations[pid],
		}

		chain := e.Calls[pid]
		report.Summary.TotalCallAttempts += len(chain)
		if last := e.LastAttempt(pid); last != nil {
			final := *last
			entry.FinalCall = &final
			switch last.Status {
			case execution.CallSucceeded:
				entry.Engaged = true
				report.Summary.CallsSucceeded++
			case execution.CallExhaustedRetries:
				report.Summary.CallsExhausted++
			}
		}
		report.Entries = append(report.Entries, entry)
	}

	sort.Slice(report.Entries, func(i, j int) bool {
		return report.Entries[i].Property.ID.String() < report.Entries[j].Property.ID.String()
	})
	return report
}
