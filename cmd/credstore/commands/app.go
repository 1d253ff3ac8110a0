package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/systmms/credstore/internal/config"
	"github.com/systmms/credstore/internal/logging"
	"github.com/systmms/credstore/internal/metrics"
	"github.com/systmms/credstore/pkg/persistence"
)

// App is the state shared by every command.
type App struct {
	Config  *config.Config
	Metrics *metrics.Recorder
}

func (a *App) logger() *logging.Logger {
	if a.Config.Logger == nil {
		a.Config.Logger = logging.Discard()
	}
	return a.Config.Logger
}

// session loads the configuration and returns an unconnected session for
// the configured backend. The caller must call the returned cleanup.
func (a *App) session() (*persistence.Session, func(), error) {
	if err := a.Config.Load(); err != nil {
		return nil, nil, err
	}
	def := a.Config.Definition

	backend, err := def.NewBackend()
	if err != nil {
		return nil, nil, err
	}

	s := persistence.NewSession(backend,
		persistence.WithLogger(a.logger()),
		persistence.WithMetrics(a.Metrics),
		persistence.WithTable(def.TableName()),
	)
	cleanup := func() {
		if err := s.Close(); err != nil {
			a.logger().Warn("closing %s session: %v", backend.Name(), err)
		}
		if def.Postgres != nil {
			def.Postgres.ErasePassword()
		}
	}
	return s, cleanup, nil
}

// LogMetrics writes the non-zero counters in reg at debug level.
func LogMetrics(logger *logging.Logger, reg prometheus.Gatherer) {
	if logger == nil || !logger.DebugEnabled() {
		return
	}
	families, err := reg.Gather()
	if err != nil {
		logger.Warn("gathering metrics: %v", err)
		return
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s{%s} count=%d sum=%gs", mf.GetName(), strings.Join(labels, ","), h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		logger.Debug("%s", l)
	}
}

// readInput reads from path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
