package exporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// RenderInflux builds the InfluxDB line-protocol rendering from spec §4.E.
// No example repo in the corpus carries a Go Influx client, so this is
// built directly with strings.Builder — see DESIGN.md for the stdlib
// justification.
func RenderInflux(s Snapshot) ([]byte, error) {
	conns := append([]ConnectionSummary(nil), s.Connections...)
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].Source+conns[i].Destination < conns[j].Source+conns[j].Destination
	})

	ts := s.Timestamp.UnixNano()
	var b strings.Builder
	for _, c := range conns {
		fmt.Fprintf(&b,
			"ebpf_latency,src=%s,dst=%s count=%di,min_us=%f,max_us=%f,avg_us=%f,stddev_us=%f,p99_us=%f %d\n",
			escapeTag(c.Source), escapeTag(c.Destination),
			c.Events, c.MinUs, c.MaxUs, c.AvgUs, c.StdDevUs, s.Percentiles.P99/1000.0, ts,
		)
	}
	return []byte(b.String()), nil
}

// escapeTag escapes the characters InfluxDB line protocol treats specially
// in tag values: comma, space, and equals sign.
func escapeTag(v string) string {
	r := strings.NewReplacer(",", "\\,", " ", "\\ ", "=", "\\=")
	return r.Replace(v)
}

// WriteInflux atomically writes the Influx rendering to path, or to w if
// path is empty.
func WriteInflux(s Snapshot, path string, w io.Writer) error {
	data, err := RenderInflux(s)
	if err != nil {
		return err
	}
	if path == "" {
		_, err := w.Write(data)
		return err
	}
	return writeAtomic(path, data)
}
