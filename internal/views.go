package internal

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/veridom/veridom/views"
)

func (s *Server) LoginViewHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, views.LoginView)
}

func (s *Server) LogViewHandler(w http.ResponseWriter, r *http.Request) {
	s.Memory.RLock()
	defer s.Memory.RUnlock()
	step := 50
	if len(s.Cache.Logs) < step {
		step = len(s.Cache.Logs)
	}
	chunk := s.Cache.Logs[0:step]
	panel := LogItemsToPanel(chunk)
	fmt.Fprintf(w, views.BaseView, fmt.Sprintf(views.LogSection, panel))
}

func (s *Server) ChartViewHandler(w http.ResponseWriter, r *http.Request) {
	s.Memory.RLock()
	defer s.Memory.RUnlock()

	out := fmt.Sprintf(`
        <div style="display: flex; flex-direction: column; align-items: center; gap: 2rem; width: 100%%; padding: 2rem 0;">
            %s
        </div>`,
		s.Cache.Charts)

	fmt.Fprintf(w, views.BaseView, out)
}

func LogItemsToPanel(logs []LogItem) string {
	out := `<div class="scrollbar">
            <div class="thumb"></div>
        </div>`
	templ := `<article class="panel is-%s">
                <p class="panel-heading">
                    %s
                </p>
                <div class="panel-block">
                    %v
                </div>
              </article>`
	for _, log := range logs {
		var color string
		if log.Error {
			color = "danger"
		} else {
			color = "info"
		}
		out += fmt.Sprintf(`<div style="margin-bottom: 1em;">`+templ+`</div>`, color, log.Time, log.Data)
	}
	return out
}

func createLineChart(seriesName string, data []Coord) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemePurplePassion}),
	)
	items := make([]opts.LineData, 0)
	xAxis := []string{}
	smoothLine := opts.LineChart{Smooth: opts.Bool(true)}
	for _, c := range data {
		xAxis = append(xAxis, fmt.Sprintf("%d", c.Time))
		items = append(items, opts.LineData{Value: c.Value})
	}

	line.SetXAxis(xAxis).
		AddSeries(seriesName, items).
		SetSeriesOptions(charts.WithLineChartOpts(smoothLine))
	return line
}
