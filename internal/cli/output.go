package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/normanking/cortexviseme/internal/viseme"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}

func formatConfidences(conf [viseme.SlotCount]float32, from, to int) string {
	parts := make([]string, 0, to-from+1)
	for s := from; s <= to; s++ {
		parts = append(parts, fmt.Sprintf("%s=%.3f", viseme.SlotName(s), conf[s]))
	}
	return strings.Join(parts, " ")
}
