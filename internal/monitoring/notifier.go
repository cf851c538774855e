package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/compresr/callrisk/internal/utils"
)

// ANSI colors for alert output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

// Notifier prints real-time alerts, throttled by a token bucket so a burst of
// risky checks can't flood the terminal.
type Notifier struct {
	mu      sync.Mutex
	out     io.Writer
	color   bool
	limiter *rate.Limiter
}

// NewNotifier creates a notifier writing to out. Colors are enabled only when
// out is a terminal. perSecond and burst configure the throttle.
func NewNotifier(out io.Writer, perSecond float64, burst int) *Notifier {
	return &Notifier{
		out:     out,
		color:   isTerminal(out),
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Notify prints the high-risk and rate-limit messages of snap. Returns false
// when the message was throttled or there was nothing immediate to report.
func (n *Notifier) Notify(snap *Snapshot, now time.Time) bool {
	if snap == nil || !snap.Alerts.Immediate() {
		return false
	}
	if !n.limiter.AllowN(now, 1) {
		return false
	}

	var sb strings.Builder
	head := fmt.Sprintf("[call-risk] %s %s risk=%.2f",
		utils.ShortID(snap.CallID), providerModel(snap.Provider, snap.Model), snap.Risk.OverallRisk)
	sb.WriteString(n.paint(head, alertColor(snap.Alerts), true))
	sb.WriteByte('\n')
	for _, msg := range snap.Alerts.ImmediateMessages() {
		sb.WriteString("  - ")
		sb.WriteString(msg)
		sb.WriteByte('\n')
	}
	for _, rec := range snap.Risk.Recommendations {
		sb.WriteString("    > ")
		sb.WriteString(rec)
		sb.WriteByte('\n')
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := io.WriteString(n.out, sb.String())
	return err == nil
}

func (n *Notifier) paint(s, color string, bold bool) string {
	if !n.color {
		return s
	}
	if bold {
		color += colorBold
	}
	return color + s + colorReset
}

func alertColor(a AlertSet) string {
	if a.HighRisk {
		return colorRed
	}
	return colorYellow
}

func providerModel(provider, model string) string {
	if provider == "" {
		provider = "unknown"
	}
	if model == "" {
		return provider
	}
	return provider + "/" + model
}
