package domain

// Row is one flattened table row keyed by column name. Values stay strings
// until a sink or dialect types them.
type Row map[string]string

// Values projects the row onto columns, in order. Missing columns yield "".
func (r Row) Values(columns []string) []string {
	out := make([]string, len(columns))
	for i, column := range columns {
		out[i] = r[column]
	}
	return out
}
