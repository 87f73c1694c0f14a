package domain

// LocalizedText maps a language code to a display string.
type LocalizedText map[string]string

// Course groups the procedures relevant to one year of study.
type Course struct {
	ID         string        `yaml:"id"`
	Name       LocalizedText `yaml:"name"`
	Procedures []string      `yaml:"procedures"`
}

// Procedure is an administrative procedure from the static catalog.
type Procedure struct {
	ID           string        `yaml:"id"`
	Name         LocalizedText `yaml:"name"`
	Instruction  LocalizedText `yaml:"instruction"`
	TemplatePath string        `yaml:"template"`
}

// RequestKind discriminates inbound work for the dispatcher.
type RequestKind int

const (
	// RequestChat is a free-form question.
	RequestChat RequestKind = iota
	// RequestFlowchart asks for a rendered diagram.
	RequestFlowchart
	// RequestFileAnalysis carries an uploaded document or photo.
	RequestFileAnalysis
)

// String returns the metric label for the kind.
func (k RequestKind) String() string {
	switch k {
	case RequestChat:
		return "chat"
	case RequestFlowchart:
		return "flowchart"
	case RequestFileAnalysis:
		return "file_analysis"
	default:
		return "unknown"
	}
}

// Response is the knowledge service answer assembled for one request.
type Response struct {
	AnswerText        string
	Sources           []string
	DiagramDefinition string
}

// HasDiagram returns true if the response carries a diagram definition.
func (r *Response) HasDiagram() bool {
	return r != nil && r.DiagramDefinition != ""
}
