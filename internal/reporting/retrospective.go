// Package reporting summarises the recorded history of a payment method.
package reporting

import (
	"sort"
	"time"

	"github.com/yourorg/payment-flow/internal/decision"
	"github.com/yourorg/payment-flow/internal/payment"
)

// RetrospectiveReport summarizes one payment method's operation and block
// events.
type RetrospectiveReport struct {
	PaymentMethodID string `json:"payment_method_id"`
	Confirmable     bool   `json:"confirmable"`

	TotalOperationEvents int                                               `json:"total_operation_events"`
	StatusCounts         map[payment.OperationStatus]int                   `json:"status_counts"`
	PhaseOutcomes        map[payment.OperationType]payment.OperationStatus `json:"phase_outcomes"`
	// StuckPhases started more often than they reached a terminal status,
	// e.g. after a crash between STARTED and the outcome.
	StuckPhases []payment.OperationType `json:"stuck_phases"`

	RefundsStarted   int `json:"refunds_started"`
	RefundsCompleted int `json:"refunds_completed"`

	BlockInvocations map[string]int `json:"block_invocations"`
	BlockFailures    map[string]int `json:"block_failures"`
	StuckBlocks      []string       `json:"stuck_blocks"`

	Eligible []payment.OperationType `json:"eligible"`

	DateFrom           time.Time     `json:"date_from"`
	DateTo             time.Time     `json:"date_to"`
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// RetrospectiveReporter generates retrospective reports.
type RetrospectiveReporter struct{}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective analyzes pm's history and its block events.
func (rr *RetrospectiveReporter) GenerateRetrospective(pm *payment.PaymentMethod, blocks []payment.BlockEvent) *RetrospectiveReport {
	report := &RetrospectiveReport{
		PaymentMethodID:  pm.ID,
		Confirmable:      pm.Confirmable,
		StatusCounts:     make(map[payment.OperationStatus]int),
		PhaseOutcomes:    make(map[payment.OperationType]payment.OperationStatus),
		StuckPhases:      []payment.OperationType{},
		BlockInvocations: make(map[string]int),
		BlockFailures:    make(map[string]int),
		StuckBlocks:      []string{},
		Eligible:         decision.Eligible(pm),
	}

	started := make(map[payment.OperationType]int)
	finished := make(map[payment.OperationType]int)
	for _, evt := range pm.Operations {
		report.TotalOperationEvents++
		report.StatusCounts[evt.Status]++
		report.observe(evt.CreatedAt)

		if evt.Status == payment.StatusStarted {
			started[evt.Type]++
			continue
		}
		finished[evt.Type]++
		report.PhaseOutcomes[evt.Type] = evt.Status
	}
	for _, op := range payment.OperationTypes {
		if started[op] > finished[op] {
			report.StuckPhases = append(report.StuckPhases, op)
		}
	}
	report.RefundsStarted = pm.Count(payment.OperationRefund, payment.StatusStarted)
	report.RefundsCompleted = pm.Count(payment.OperationRefund, payment.StatusCompleted)

	blockStarted := make(map[string]int)
	blockFinished := make(map[string]int)
	for _, evt := range blocks {
		report.observe(evt.CreatedAt)
		if evt.Status == payment.StatusStarted {
			blockStarted[evt.BlockName]++
			report.BlockInvocations[evt.BlockName]++
			continue
		}
		blockFinished[evt.BlockName]++
		if evt.Status == payment.StatusFailed {
			report.BlockFailures[evt.BlockName]++
		}
	}
	for name, n := range blockStarted {
		if n > blockFinished[name] {
			report.StuckBlocks = append(report.StuckBlocks, name)
		}
	}
	sort.Strings(report.StuckBlocks)

	if !report.DateFrom.IsZero() {
		report.ProcessingDuration = report.DateTo.Sub(report.DateFrom)
	}
	return report
}

func (r *RetrospectiveReport) observe(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if r.DateFrom.IsZero() || ts.Before(r.DateFrom) {
		r.DateFrom = ts
	}
	if ts.After(r.DateTo) {
		r.DateTo = ts
	}
}
