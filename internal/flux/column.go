package flux

// Datatype annotation values.
const (
	TypeString       = "string"
	TypeLong         = "long"
	TypeUnsignedLong = "unsignedLong"
	TypeDouble       = "double"
	TypeBoolean      = "boolean"
	TypeRFC3339      = "dateTime:RFC3339"
	TypeRFC3339Nano  = "dateTime:RFC3339Nano"
	TypeDuration     = "duration"
	TypeBase64Binary = "base64Binary"
	TypeUnknown      = "unknown"
)

// Column describes one column of a table block.
//
// Index counts from the first cell after the annotation marker, so the
// "result" and "table" columns occupy indexes 0 and 1 in a standard response.
type Column struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	DataType string `json:"datatype"`
	Group    bool   `json:"group"`
	Default  string `json:"default,omitempty"`
}
