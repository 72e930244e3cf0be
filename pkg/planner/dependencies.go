package planner

import (
	"github.com/cuemby/clm/pkg/types"
)

// executionRequirement classifies an output by whether it needs a
// notebook execution and, if so, whether it produces or consumes the
// cache entry that execution leaves behind.
type executionRequirement int

const (
	executionNone executionRequirement = iota
	executionPopulatesCache
	executionReusesCache
)

type outputKey struct {
	format types.OutputFormat
	kind   types.OutputKind
}

// executionRequirements is keyed on (format, kind) only: the requirement
// does not depend on language.
var executionRequirements = map[outputKey]executionRequirement{
	{types.OutputFormatHTML, types.OutputKindCodeAlong}:     executionNone,
	{types.OutputFormatNotebook, types.OutputKindCodeAlong}: executionNone,
	{types.OutputFormatCode, types.OutputKindCodeAlong}:     executionNone,

	{types.OutputFormatHTML, types.OutputKindSpeaker}:     executionPopulatesCache,
	{types.OutputFormatNotebook, types.OutputKindSpeaker}: executionNone,
	{types.OutputFormatCode, types.OutputKindSpeaker}:     executionNone,

	{types.OutputFormatHTML, types.OutputKindCompleted}:     executionReusesCache,
	{types.OutputFormatNotebook, types.OutputKindCompleted}: executionNone,
	{types.OutputFormatCode, types.OutputKindCompleted}:     executionNone,
}

// cacheProviders maps a cache-consuming (format, kind) to the
// (format, kind) whose execution populates the cache it reads.
var cacheProviders = map[outputKey]outputKey{
	{types.OutputFormatHTML, types.OutputKindCompleted}: {types.OutputFormatHTML, types.OutputKindSpeaker},
}

func getExecutionRequirement(format types.OutputFormat, kind types.OutputKind) executionRequirement {
	if req, ok := executionRequirements[outputKey{format, kind}]; ok {
		return req
	}
	return executionNone
}

// requestedOutput is one (language, format, kind) combination a target
// wants generated.
type requestedOutput struct {
	Language string
	Format   types.OutputFormat
	Kind     types.OutputKind
}

// collectRequestedOutputs gathers every combination that at least one
// target's ShouldGenerate accepts.
func collectRequestedOutputs(targets []types.OutputTarget) map[requestedOutput]bool {
	requested := make(map[requestedOutput]bool)
	for _, target := range targets {
		for _, lang := range target.Languages {
			for _, format := range target.Formats {
				for _, kind := range target.Kinds {
					if target.ShouldGenerate(lang, format, kind) {
						requested[requestedOutput{lang, format, kind}] = true
					}
				}
			}
		}
	}
	return requested
}

// resolveImplicitExecutions returns the additional (language, format,
// kind) combinations that must be executed (but not written to disk
// unless also explicit) to satisfy every REUSES_CACHE entry already in
// requested.
func resolveImplicitExecutions(requested map[requestedOutput]bool) map[requestedOutput]bool {
	implicit := make(map[requestedOutput]bool)

	for out := range requested {
		if getExecutionRequirement(out.Format, out.Kind) != executionReusesCache {
			continue
		}
		provider, ok := cacheProviders[outputKey{out.Format, out.Kind}]
		if !ok {
			continue
		}
		providerOutput := requestedOutput{out.Language, provider.format, provider.kind}
		if !requested[providerOutput] {
			implicit[providerOutput] = true
			plannerLog.Info().
				Str("language", out.Language).
				Str("consumer_format", string(out.Format)).
				Str("consumer_kind", string(out.Kind)).
				Str("provider_format", string(provider.format)).
				Str("provider_kind", string(provider.kind)).
				Msg("adding implicit execution to satisfy cache dependency")
		}
	}

	return implicit
}

// getAllRequiredExecutions returns the explicit outputs a target set
// requests and the implicit executions needed to satisfy their cache
// dependencies.
func getAllRequiredExecutions(targets []types.OutputTarget) (explicit, implicit map[requestedOutput]bool) {
	explicit = collectRequestedOutputs(targets)
	implicit = resolveImplicitExecutions(explicit)
	return explicit, implicit
}
