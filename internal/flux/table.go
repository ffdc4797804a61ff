package flux

// Table is one result partition: the rows sharing a table id inside a block.
type Table struct {
	// Index is the position of the table in emission order, starting at 0.
	Index int `json:"index"`

	// ID is the value of the "table" column, or -1 for a block without rows.
	ID int `json:"id"`

	// Block is the schema generation the table belongs to.
	Block int `json:"block"`

	Columns []Column `json:"columns"`

	// Records is filled by collecting consumers. The parser itself never
	// appends to it.
	Records []*Record `json:"records"`
}

// GroupKey returns the columns that are part of the group key.
func (t *Table) GroupKey() []Column {
	key := make([]Column, 0, len(t.Columns))
	for _, col := range t.Columns {
		if col.Group {
			key = append(key, col)
		}
	}
	return key
}

// Column returns the first column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in schema order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}
