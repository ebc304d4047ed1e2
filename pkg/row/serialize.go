package row

// Serialize returns a copy of r that is safe for JSON transport: date and date-time values are
// replaced by string values holding their ISO-8601 form. Every other kind passes through unchanged.
//
// Serialize must run right before a row is sent. Checkpoint values are taken from the unserialized row so
// they keep their native kind.
func Serialize(r Row) Row {
	out := Row{fields: make([]Field, len(r.fields))}
	for i, f := range r.fields {
		if f.Value.Kind().IsTemporal() {
			f.Value = String(f.Value.String())
		}
		out.fields[i] = f
	}
	return out
}
