package ingest

// Event is one parsed bug-path event, positioned in a source file by path.
type Event struct {
	File      string `json:"file"`
	Msg       string `json:"msg"`
	LineBegin int    `json:"line_begin"`
	ColBegin  int    `json:"col_begin"`
	LineEnd   int    `json:"line_end"`
	ColEnd    int    `json:"col_end"`
}

// Point is one parsed control-flow path position.
type Point struct {
	File      string `json:"file"`
	LineBegin int    `json:"line_begin"`
	ColBegin  int    `json:"col_begin"`
	LineEnd   int    `json:"line_end"`
	ColEnd    int    `json:"col_end"`
}

// Diagnostic is one defect as produced by the (external) analyzer output
// parser. HashValue is the analyzer-supplied identity when present; the
// fallback fuzzy hash is computed only when it is empty.
type Diagnostic struct {
	CheckerName string  `json:"checker_name"`
	Category    string  `json:"category"`
	Type        string  `json:"type"`
	Severity    string  `json:"severity"`
	Message     string  `json:"message"`
	HashValue   string  `json:"hash_value,omitempty"`
	File        string  `json:"file"`
	Events      []Event `json:"events"`
	Path        []Point `json:"path"`
}

// ActionResult is the parsed outcome of analyzing one compilation unit.
// An empty FailureTxt means the analyzer succeeded.
type ActionResult struct {
	BuildCmdHash string       `json:"build_cmd_hash"`
	CheckCmd     string       `json:"check_cmd"`
	AnalyzerType string       `json:"analyzer_type"`
	SourceFile   string       `json:"source_file"`
	FailureTxt   string       `json:"failure_txt,omitempty"`
	Diagnostics  []Diagnostic `json:"diagnostics"`
}
