package domain

// ItemKind distinguishes the two kinds of validated items.
type ItemKind string

// ItemKind values.
const (
	ItemKindContent  ItemKind = "content"
	ItemKindQuestion ItemKind = "question"
)

// IsValid reports whether k is a known item kind.
func (k ItemKind) IsValid() bool {
	switch k {
	case ItemKindContent, ItemKindQuestion:
		return true
	default:
		return false
	}
}

// ValidationMode selects how thorough the assessment should be.
// The mode is forwarded to the assessor; the rubric and gates are identical
// for both modes.
type ValidationMode string

// ValidationMode values.
const (
	ValidationModeQuick ValidationMode = "quick"
	ValidationModeFull  ValidationMode = "full"
)

// IsValid reports whether m is a known validation mode.
func (m ValidationMode) IsValid() bool {
	switch m {
	case ValidationModeQuick, ValidationModeFull:
		return true
	default:
		return false
	}
}

// Difficulty is the intended learner level of an item.
type Difficulty string

// Difficulty values.
const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// IsValid reports whether d is a known difficulty.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	default:
		return false
	}
}

// Mode is the teaching mode a concept is written for.
type Mode string

// Mode values.
const (
	ModeCoach    Mode = "coach"
	ModeHybrid   Mode = "hybrid"
	ModeSocratic Mode = "socratic"
)

// IsValid reports whether m is a known teaching mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeCoach, ModeHybrid, ModeSocratic:
		return true
	default:
		return false
	}
}

// Library is a Python library that content may reference.
type Library string

// Approved libraries.
const (
	LibraryCorePython  Library = "core-python"
	LibraryNumPy       Library = "numpy"
	LibraryPandas      Library = "pandas"
	LibraryMatplotlib  Library = "matplotlib"
	LibrarySeaborn     Library = "seaborn"
	LibraryScikitLearn Library = "scikit-learn"
)

// IsValid reports whether l is one of the approved libraries.
func (l Library) IsValid() bool {
	switch l {
	case LibraryCorePython, LibraryNumPy, LibraryPandas,
		LibraryMatplotlib, LibrarySeaborn, LibraryScikitLearn:
		return true
	default:
		return false
	}
}

// ApprovedLibraries returns the default scope allow-list.
func ApprovedLibraries() []Library {
	return []Library{
		LibraryCorePython, LibraryNumPy, LibraryPandas,
		LibraryMatplotlib, LibrarySeaborn, LibraryScikitLearn,
	}
}

// BloomsLevel is a level of Bloom's taxonomy.
type BloomsLevel string

// BloomsLevel values, lowest to highest.
const (
	BloomsRemember   BloomsLevel = "remember"
	BloomsUnderstand BloomsLevel = "understand"
	BloomsApply      BloomsLevel = "apply"
	BloomsAnalyze    BloomsLevel = "analyze"
	BloomsEvaluate   BloomsLevel = "evaluate"
	BloomsCreate     BloomsLevel = "create"
)

// IsValid reports whether b is a known Bloom's level.
func (b BloomsLevel) IsValid() bool {
	switch b {
	case BloomsRemember, BloomsUnderstand, BloomsApply,
		BloomsAnalyze, BloomsEvaluate, BloomsCreate:
		return true
	default:
		return false
	}
}

// QuestionType is the answer format of a practice question.
type QuestionType string

// QuestionType values.
const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionFillBlank      QuestionType = "fill_blank"
	QuestionCodeOutput     QuestionType = "code_output"
	QuestionCodeWriting    QuestionType = "code_writing"
)

// IsValid reports whether q is a known question type.
func (q QuestionType) IsValid() bool {
	switch q {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionFillBlank,
		QuestionCodeOutput, QuestionCodeWriting:
		return true
	default:
		return false
	}
}

// HasOptions reports whether questions of this type carry an options list.
func (q QuestionType) HasOptions() bool {
	return q == QuestionMultipleChoice || q == QuestionTrueFalse
}

// IsCode reports whether answering requires running or writing code.
func (q QuestionType) IsCode() bool {
	return q == QuestionCodeOutput || q == QuestionCodeWriting
}

// CitationSource identifies where a citation was retrieved from.
type CitationSource string

// CitationSource values.
const (
	CitationSourceVector CitationSource = "vector"
	CitationSourceWeb    CitationSource = "web"
)

// IsValid reports whether s is a known citation source.
func (s CitationSource) IsValid() bool {
	switch s {
	case CitationSourceVector, CitationSourceWeb:
		return true
	default:
		return false
	}
}

// Severity grades a validation issue.
type Severity string

// Severity values.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}
