package config

// SourceFileExt is the extension of tree documents accepted by the CLI.
const SourceFileExt = ".yaml"

// SourceFileExtensions are all recognized tree document extensions
var SourceFileExtensions = []string{".yaml", ".yml", ".json"}

// BundleFileExt is the extension of serialized bundles.
const BundleFileExt = ".pybc"

// Future imports
const (
	FutureModuleName = "__future__"

	FeatureNestedScopes   = "nested_scopes"
	FeatureGenerators     = "generators"
	FeatureDivision       = "division"
	FeatureWithStatement  = "with_statement"
	FeatureAbsoluteImport = "absolute_import"
	FeatureBraces         = "braces"
	FeatureGIL            = "GIL"
	FeatureGILLong        = "global_interpreter_lock"
)

// SelectableFeatures are the future features a caller may enable up front.
var SelectableFeatures = []string{
	FeatureNestedScopes,
	FeatureGenerators,
	FeatureDivision,
	FeatureWithStatement,
	FeatureAbsoluteImport,
}

// Reserved names
const (
	DebugName    = "__debug__"
	DocName      = "__doc__"
	ModuleName   = "__name__"
	ModuleAttr   = "__module__"
	LambdaName   = "<lambda>"
	ModuleUnit   = "<module>"
	ListCompName = "<listcomp>"
	GenExpName   = "<genexpr>"
	EnterMethod  = "__enter__"
	ExitMethod   = "__exit__"
	NoneName     = "None"

	AssertionErrorName = "AssertionError"
	MainModule         = "__main__"
)

// MaxStringConstant is the longest string literal the code generator accepts.
const MaxStringConstant = 32767

// Import levels
const (
	ImportLevelRelative = -1
	ImportLevelAbsolute = 0
)
