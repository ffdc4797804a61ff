package query

// Annotation names accepted by the query endpoint.
const (
	AnnotationDatatype = "datatype"
	AnnotationGroup    = "group"
	AnnotationDefault  = "default"
)

// Dialect describes the CSV shape requested from the server.
type Dialect struct {
	Header         bool     `json:"header"`
	Delimiter      string   `json:"delimiter"`
	CommentPrefix  string   `json:"commentPrefix"`
	Annotations    []string `json:"annotations"`
	DateTimeFormat string   `json:"dateTimeFormat"`
}

// DefaultDialect returns the dialect the parser understands in full mode.
func DefaultDialect() *Dialect {
	return &Dialect{
		Header:         true,
		Delimiter:      ",",
		CommentPrefix:  "#",
		Annotations:    []string{AnnotationDatatype, AnnotationGroup, AnnotationDefault},
		DateTimeFormat: "RFC3339",
	}
}

// namesOnlyDialect requests a bare header row without annotations.
func namesOnlyDialect() *Dialect {
	d := DefaultDialect()
	d.Annotations = []string{}
	return d
}

// requestBody is the JSON payload of POST /api/v2/query.
type requestBody struct {
	Query   string   `json:"query"`
	Dialect *Dialect `json:"dialect"`
	Type    string   `json:"type"`
}

func newRequestBody(flux string, d *Dialect) requestBody {
	if d == nil {
		d = DefaultDialect()
	}
	return requestBody{Query: flux, Dialect: d, Type: "flux"}
}
