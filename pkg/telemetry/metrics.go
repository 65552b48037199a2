// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/concierge/pkg/errors"
)

// Metrics holds the Concierge instruments. A nil *Metrics records nothing.
type Metrics struct {
	turns        metric.Int64Counter
	executions   metric.Int64Counter
	errs         metric.Int64Counter
	gatewayCalls metric.Int64Counter
	gatewayTime  metric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom creates the instruments on mp.
func NewMetricsFrom(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("github.com/jllopis/concierge")

	turns, err := meter.Int64Counter("concierge.turns.total",
		metric.WithDescription("Session turns by capability and outcome"))
	if err != nil {
		return nil, err
	}
	executions, err := meter.Int64Counter("concierge.capability.executions",
		metric.WithDescription("Capability executions by capability and result type"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("concierge.errors.total",
		metric.WithDescription("Errors by code and component"))
	if err != nil {
		return nil, err
	}
	gatewayCalls, err := meter.Int64Counter("concierge.gateway.calls",
		metric.WithDescription("Language-model gateway calls by operation and outcome"))
	if err != nil {
		return nil, err
	}
	gatewayTime, err := meter.Float64Histogram("concierge.gateway.duration",
		metric.WithDescription("Language-model gateway call duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		turns:        turns,
		executions:   executions,
		errs:         errs,
		gatewayCalls: gatewayCalls,
		gatewayTime:  gatewayTime,
	}, nil
}

// RecordTurn counts one completed session turn.
func (m *Metrics) RecordTurn(ctx context.Context, capability, outcome string) {
	if m == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCapability, capability),
		attribute.String(AttrOutcome, outcome),
	))
}

// RecordExecution counts one capability callback invocation.
func (m *Metrics) RecordExecution(ctx context.Context, capability, resultType string) {
	if m == nil {
		return
	}
	m.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCapability, capability),
		attribute.String(AttrResultType, resultType),
	))
}

// RecordError counts err under its code. Untyped errors count as UNKNOWN.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	var e *errors.Error
	if stderrors.As(err, &e) {
		code, recoverable = string(e.Code), e.RecoverableString()
	}
	m.errs.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrComponent, component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordGatewayCall counts one gateway operation and its duration.
func (m *Metrics) RecordGatewayCall(ctx context.Context, operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrOperation, operation),
		attribute.String(AttrOutcome, outcome),
	)
	m.gatewayCalls.Add(ctx, 1, attrs)
	m.gatewayTime.Record(ctx, d.Seconds(), attrs)
}
