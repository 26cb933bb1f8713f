package runpool

const truncationMarker = "\n\n[truncated]\n\n"

// truncate implements spec.md §4.5's log-truncation algorithm: inputs
// within the budget pass through unchanged; oversized inputs keep the
// first floor(0.2*limit) bytes and the last floor(0.8*limit) bytes, joined
// by a marker, so the control plane always sees the script's usage/args
// prologue and its failure-context tail.
func truncate(input []byte, limit int) []byte {
	if len(input) <= limit {
		return input
	}

	head := (limit * 2) / 10
	tail := (limit * 8) / 10

	out := make([]byte, 0, head+len(truncationMarker)+tail)
	out = append(out, input[:head]...)
	out = append(out, truncationMarker...)
	out = append(out, input[len(input)-tail:]...)
	return out
}
