package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/parley/internal/cachemanager"
	"github.com/zjrosen/parley/internal/experiment"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/ui/markdown"
)

// renderCacheTTL bounds how long a rendered analysis overlay is reused.
const renderCacheTTL = 10 * time.Minute

// analysisRenderInput carries everything one overlay render needs.
type analysisRenderInput struct {
	analyses []experiment.AnalysisSnapshot
	width    int
	style    string
}

// newAnalysisRenderCache builds the read-through cache behind the
// analysis overlay. Glamour renders are slow enough to feel; reopening
// the same overlay serves the previous render.
func newAnalysisRenderCache() *cachemanager.ReadThroughCache[string, string, analysisRenderInput] {
	store := cachemanager.NewInMemoryCacheManager[string, string]("analysis-render", renderCacheTTL, renderCacheTTL)
	return cachemanager.NewReadThroughCache(store, renderAnalyses, false)
}

// openAnalysisOverlay renders the selected session's saved analyses into
// a markdown overlay. Sessions without fetched analyses get a footer
// message instead.
func (m Model) openAnalysisOverlay() (tea.Model, tea.Cmd) {
	session := selectedSession(m.snapshot, m.cursor)
	if session == nil {
		return m, nil
	}
	if session.Detail == nil || len(session.Detail.Analyses) == 0 {
		m.footerMsg = "no analyses for " + session.ID
		m.footerIsErr = false
		return m, nil
	}

	width := overlayBodyWidth(m.width)
	body, err := m.renderCache.Get(context.Background(),
		renderCacheKey(session, width, m.mdStyle),
		analysisRenderInput{analyses: session.Detail.Analyses, width: width, style: m.mdStyle},
		renderCacheTTL)
	if err != nil {
		log.Warn(log.CatUI, "Analysis render failed", "session", session.ID, "error", err)
		m.footerMsg = "analysis render failed: " + err.Error()
		m.footerIsErr = true
		return m, nil
	}

	m.overlayTitle = overlayTitle(session)
	m.overlayBody = body
	m.overlayVisible = true
	return m, nil
}

func overlayTitle(session *experiment.SessionSummary) string {
	if session.Name != "" {
		return "Analyses: " + session.Name
	}
	return "Analyses: " + session.ID
}

func overlayBodyWidth(total int) int {
	width := min(total-8, 96)
	if width < minBodyWidth {
		width = minBodyWidth
	}
	return width
}

// renderCacheKey ties a cached render to the session, the layout, and
// the analysis set it was produced from, so a newly saved analysis or a
// resize misses the cache.
func renderCacheKey(session *experiment.SessionSummary, width int, style string) string {
	analyses := session.Detail.Analyses
	last := ""
	if n := len(analyses); n > 0 {
		last = analyses[n-1].ID
	}
	return fmt.Sprintf("%s|%d|%s|%d|%s", session.ID, width, style, len(analyses), last)
}

// renderAnalyses joins the analyses into one markdown document and
// renders it with glamour.
func renderAnalyses(_ context.Context, in analysisRenderInput) (string, error) {
	renderer, err := markdown.New(in.width, in.style)
	if err != nil {
		return "", err
	}

	var doc strings.Builder
	for i, a := range in.analyses {
		if i > 0 {
			doc.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&doc, "## %s\n\n", analysisHeading(a))
		doc.WriteString(a.Content)
		doc.WriteString("\n")
	}

	return renderer.Render(doc.String())
}

func analysisHeading(a experiment.AnalysisSnapshot) string {
	if a.Model == "" {
		return a.ID
	}
	return fmt.Sprintf("%s (%s)", a.Model, a.CreatedAt.Format("2006-01-02 15:04"))
}
