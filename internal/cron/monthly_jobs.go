package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mercato/mercato-backend/internal/settlements"
	"github.com/mercato/mercato-backend/pkg/logger"
)

// monthGate opens on the first day of a month, once per closed month.
type monthGate struct {
	done time.Time
}

func (g *monthGate) Due(now time.Time) bool {
	now = now.UTC()
	return now.Day() == 1 && !g.done.Equal(settlements.MonthBefore(now).Start)
}

func (g *monthGate) mark(period settlements.Period) {
	g.done = period.Start
}

type settlementGenerator interface {
	GeneratePeriod(ctx context.Context, period settlements.Period, finalize bool) (int, error)
}

type SettlementGenerateJobParams struct {
	Logger      *logger.Logger
	Settlements settlementGenerator
}

// NewSettlementGenerateJob builds the job that settles and finalizes the
// previous calendar month on the first of each month.
func NewSettlementGenerateJob(params SettlementGenerateJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settlements == nil {
		return nil, fmt.Errorf("settlements service required")
	}
	return &settlementGenerateJob{
		logg:        params.Logger,
		settlements: params.Settlements,
		now:         time.Now,
	}, nil
}

type settlementGenerateJob struct {
	monthGate
	logg        *logger.Logger
	settlements settlementGenerator
	now         func() time.Time
}

func (j *settlementGenerateJob) Name() string { return "settlement_generate" }

func (j *settlementGenerateJob) Run(ctx context.Context) error {
	period := settlements.MonthBefore(j.now())
	count, err := j.settlements.GeneratePeriod(ctx, period, true)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"period_start": period.Start,
		"period_end":   period.End,
		"settlements":  count,
	}), "monthly settlements generated")
	if err != nil {
		return fmt.Errorf("generate settlements: %w", err)
	}
	j.mark(period)
	return nil
}

type invoiceIssuer interface {
	IssuePeriod(ctx context.Context, from, to time.Time) (int, error)
}

type InvoiceIssueJobParams struct {
	Logger   *logger.Logger
	Invoices invoiceIssuer
}

// NewInvoiceIssueJob builds the job that invoices the previous calendar
// month's commission on the first of each month.
func NewInvoiceIssueJob(params InvoiceIssueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoices service required")
	}
	return &invoiceIssueJob{
		logg:     params.Logger,
		invoices: params.Invoices,
		now:      time.Now,
	}, nil
}

type invoiceIssueJob struct {
	monthGate
	logg     *logger.Logger
	invoices invoiceIssuer
	now      func() time.Time
}

func (j *invoiceIssueJob) Name() string { return "invoice_issue" }

func (j *invoiceIssueJob) Run(ctx context.Context) error {
	period := settlements.MonthBefore(j.now())
	issued, err := j.invoices.IssuePeriod(ctx, period.Start, period.End)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"period_start": period.Start,
		"period_end":   period.End,
		"issued":       issued,
	}), "monthly commission invoices issued")
	if err != nil {
		return fmt.Errorf("issue invoices: %w", err)
	}
	j.mark(period)
	return nil
}
