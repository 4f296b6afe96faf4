package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/touchring/internal/cells"
	"github.com/banshee-data/touchring/internal/geometry"
)

// cellPosition returns the section and logical ring addressed by a cell
// index.
func cellPosition(cell int) (section, ring int) {
	half := cell / cells.HalfCells
	local := cell % cells.HalfCells
	return half*geometry.HalfSections + local%geometry.HalfSections, local / geometry.HalfSections
}

// AttachAdminRoutes registers the activation heatmap and pointer counters on
// the tsweb debug mux.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Active pointers", func() any { return s.agg.Pointers() })
	debug.KVFunc("Active cells", func() any {
		snap := s.agg.Latest()
		return snap.Count()
	})
	if s.activity == nil {
		return
	}
	debug.HandleFunc("cells-heatmap", "Cell activation heatmap", s.handleHeatmap)
	debug.HandleSilentFunc("cells-heatmap-reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.activity.Reset()
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	counts, snapshots := s.activity.Counts()

	data := make([]opts.HeatMapData, 0, len(counts))
	var maxCount uint64
	for cell, n := range counts {
		section, ring := cellPosition(cell)
		data = append(data, opts.HeatMapData{
			Name:  strconv.Itoa(cell),
			Value: [3]interface{}{section, ring, n},
		})
		maxCount = max(maxCount, n)
	}

	sections := make([]string, geometry.Sections)
	for i := range sections {
		sections[i] = strconv.Itoa(i)
	}
	rings := make([]string, geometry.LogicalRings)
	for i := range rings {
		rings[i] = strconv.Itoa(i)
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Touch Ring Activity", Theme: "dark", Width: "1200px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cell Activation", Subtitle: fmt.Sprintf("snapshots=%d", snapshots)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: sections, Name: "section", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: rings, Name: "ring", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(max(maxCount, 1)),
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	hm.AddSeries("activity", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
