package agent

import "github.com/nexus-core/nexus/internal/pricing"

// StopReason is the canonical reason a provider stopped generating.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
)

// EventKind is the canonical chunk kind emitted by a provider's streaming
// response, per the provider abstraction's wire contract.
type EventKind string

const (
	EventKindMessageStart EventKind = "message_start"
	EventKindContentDelta EventKind = "content_delta"
	EventKindToolUseStart EventKind = "tool_use_start"
	EventKindToolUseEnd   EventKind = "tool_use_end"
	EventKindMessageEnd   EventKind = "message_end"
)

// ModelPricing describes a model's capacity and per-token pricing. Prices
// are USD per 1M tokens. Alias of pricing.ModelPricing so existing callers
// in this package don't need to import internal/pricing directly.
type ModelPricing = pricing.ModelPricing

// unknownModelPricing is returned for any model ID absent from the
// registry, per the provider abstraction's documented fallback.
var unknownModelPricing = pricing.UnknownModelPricing

// ModelPricingFor returns the pricing/capacity entry for modelID, falling
// back to a conservative default for unregistered models instead of
// failing the request.
func ModelPricingFor(modelID string) ModelPricing {
	return pricing.ModelPricingFor(modelID)
}

// RegisterModelPricing adds or overrides a model's pricing entry. Used by
// provider constructors to extend the registry with newly released models
// without touching this file. The table itself lives in internal/pricing
// so internal/costguard can price turns without importing this package.
func RegisterModelPricing(modelID string, p ModelPricing) {
	pricing.Register(modelID, p)
}

// CostOf computes the USD cost of a completion given its token usage,
// per costOf(inputTokens, outputTokens) = (input*inPrice + output*outPrice) / 1_000_000.
func CostOf(modelID string, inputTokens, outputTokens int) float64 {
	return pricing.CostOf(modelID, inputTokens, outputTokens)
}
