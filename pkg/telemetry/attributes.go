// Copyright 2026 © The Concierge Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for Concierge spans and metrics.
const (
	AttrSessionID  = "concierge.session.id"
	AttrCapability = "concierge.capability"
	AttrArgument   = "concierge.argument"
	AttrPhase      = "concierge.phase"
	AttrOutcome    = "concierge.outcome"
	AttrResultType = "concierge.result.type"

	AttrOperation = "concierge.gateway.operation"

	// LLM attributes follow the gen_ai conventions.
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMTemperature  = "gen_ai.request.temperature"
	AttrLLMMaxTokens    = "gen_ai.request.max_tokens"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"

	AttrErrorCode = "error.code"
	AttrComponent = "component"
)

// TurnAttributes describes one session turn.
func TurnAttributes(sessionID, capability, phase string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrSessionID, sessionID)}
	if capability != "" {
		attrs = append(attrs, attribute.String(AttrCapability, capability))
	}
	if phase != "" {
		attrs = append(attrs, attribute.String(AttrPhase, phase))
	}
	return attrs
}

// LLMRequestAttributes describes a gateway call before it is sent.
func LLMRequestAttributes(operation, model string, temperature float64, maxTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrOperation, operation),
		attribute.Float64(AttrLLMTemperature, temperature),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if maxTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMMaxTokens, maxTokens))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes, omitting zero counts.
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}
