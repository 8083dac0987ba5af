package wasm

// Features is a bitmask of the proposal toggles enumerated in spec.md §6,
// each individually switchable in the engine configuration.
type Features uint64

const (
	FeatureMultiValue Features = 1 << iota
	FeatureBulkMemoryOperations
	FeatureReferenceTypes
	FeatureSIMD
	FeatureTailCall
	FeatureThreads
	FeatureMultiMemory
	FeatureMutableGlobalsImportsExports
	FeatureSignExtensionOps
	FeatureNonTrappingFloatToIntConversion
	FeatureFunctionReferences
	FeatureGC
	FeatureExceptionHandling
	FeatureMemory64
	FeatureRelaxedSIMD
	FeatureComponentModel
)

// Names used by the "proposal that would enable it" hint in IllegalOpCode
// diagnostics (spec.md §4.2).
var featureNames = map[Features]string{
	FeatureMultiValue:                      "multi-value",
	FeatureBulkMemoryOperations:             "bulk-memory",
	FeatureReferenceTypes:                   "reference-types",
	FeatureSIMD:                             "simd",
	FeatureTailCall:                         "tail-call",
	FeatureThreads:                          "threads",
	FeatureMultiMemory:                      "multi-memory",
	FeatureMutableGlobalsImportsExports:     "mutable-globals-imports-exports",
	FeatureSignExtensionOps:                 "sign-extension-ops",
	FeatureNonTrappingFloatToIntConversion:  "non-trapping-float-to-int",
	FeatureFunctionReferences:               "function-references",
	FeatureGC:                               "gc",
	FeatureExceptionHandling:                "exception-handling",
	FeatureMemory64:                         "memory64",
	FeatureRelaxedSIMD:                      "relaxed-simd",
	FeatureComponentModel:                   "component-model",
}

func (f Features) Name() string {
	if n, ok := featureNames[f]; ok {
		return n
	}
	return "unknown"
}

// IsEnabled reports whether every bit set in want is also set in f.
func (f Features) IsEnabled(want Features) bool { return f&want == want }

// Set returns f with want enabled or disabled.
func (f Features) Set(want Features, enabled bool) Features {
	if enabled {
		return f | want
	}
	return f &^ want
}

// Default1_0Features is plain WebAssembly 1.0 (20191205): nothing beyond the
// MVP, mutable-globals excluded from imports/exports.
const Default1_0Features Features = 0

// FeaturesAll enables every proposal spec.md §6 lists; useful as a baseline
// for tests that want maximal acceptance.
const FeaturesAll Features = FeatureMultiValue | FeatureBulkMemoryOperations |
	FeatureReferenceTypes | FeatureSIMD | FeatureTailCall | FeatureThreads |
	FeatureMultiMemory | FeatureMutableGlobalsImportsExports | FeatureSignExtensionOps |
	FeatureNonTrappingFloatToIntConversion | FeatureFunctionReferences | FeatureGC |
	FeatureExceptionHandling | FeatureMemory64 | FeatureRelaxedSIMD | FeatureComponentModel
