package exporter

import (
	"fmt"
	"io"

	"github.com/jedi132000/tcplatprobe/internal/config"
)

// Write renders s in the requested format and writes it atomically to path
// (or to w when path is empty), per spec §4.E/§4.F.
func Write(s Snapshot, format config.OutputFormat, path string, w io.Writer) error {
	switch format {
	case config.FormatJSON:
		return WriteJSON(s, path, w)
	case config.FormatPrometheus:
		return WritePrometheus(s, path, w)
	case config.FormatInflux:
		return WriteInflux(s, path, w)
	default:
		return fmt.Errorf("exporter: unknown format %q", format)
	}
}
