package metrics

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// LogRoutine periodically logs a snapshot of r until closeChan closes.
func LogRoutine(title string, r *Registry, freq time.Duration, closeChan chan struct{}) {
	go func() {
		ticker := time.NewTicker(freq)
		defer ticker.Stop()
		for {
			select {
			case _, ok := <-closeChan:
				if !ok {
					return
				}
			case <-ticker.C:
				if msg := Format(title, r); msg != "" {
					log.Print(msg)
				}
			}
		}
	}()
}

// Format renders one snapshot line; empty when nothing was recorded.
func Format(title string, r *Registry) string {
	counterList := make([]string, 0)
	histList := make([]string, 0)

	r.Each(func(name string, metric interface{}) {
		switch m := metric.(type) {
		case *Counter:
			if n := m.Count(); n != 0 {
				counterList = append(counterList, fmt.Sprintf("%s: %d", name, n))
			}
		case *Histogram:
			s := m.Snapshot()
			if s.Count != 0 {
				histList = append(histList, fmt.Sprintf("%s: count=%d, min=%d, max=%d, avg=%d",
					name, s.Count, s.Min, s.Max, s.Avg()))
			}
		}
	})

	if len(counterList) == 0 && len(histList) == 0 {
		return ""
	}

	sb := strings.Builder{}
	sb.WriteString(title)
	if len(counterList) > 0 {
		sb.WriteString(fmt.Sprintf(" counter(%v):{", len(counterList)))
		for _, v := range counterList {
			sb.WriteString("[")
			sb.WriteString(v)
			sb.WriteString("],")
		}
		sb.WriteString("}")
	}
	if len(histList) > 0 {
		sb.WriteString(fmt.Sprintf(" histogram(%v):{", len(histList)))
		for _, v := range histList {
			sb.WriteString("[")
			sb.WriteString(v)
			sb.WriteString("],")
		}
		sb.WriteString("}")
	}
	return sb.String()
}
