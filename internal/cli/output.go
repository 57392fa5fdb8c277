package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseKey accepts "season:round" or "season round".
func parseKey(args []string) (domain.EventKey, error) {
	var key domain.EventKey
	var err error
	switch len(args) {
	case 1:
		err = key.UnmarshalText([]byte(args[0]))
	case 2:
		err = key.UnmarshalText([]byte(args[0] + ":" + args[1]))
	default:
		err = fmt.Errorf("%w: expected SEASON:ROUND", domain.ErrInvalidEventKey)
	}
	return key, err
}

func parseOffsets(hours []float64) ([]time.Duration, error) {
	if len(hours) == 0 {
		return nil, nil
	}
	out := make([]time.Duration, len(hours))
	for i, h := range hours {
		if h < 0 {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOffsets, h)
		}
		out[i] = time.Duration(h * float64(time.Hour))
	}
	return out, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04Z")
}

func writeSummary(w io.Writer, s *usecase.ScheduleSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "event\t%s (%s)\n", s.Key, s.EventName)
	fmt.Fprintf(tw, "estimated end\t%s\n", fmtTime(s.EstimatedEnd))
	fmt.Fprintf(tw, "lifecycle\t%s\n", s.Lifecycle)
	fmt.Fprintf(tw, "success rate\t%.0f%%\n", s.SuccessRate*100)
	if s.NextPending != nil {
		fmt.Fprintf(tw, "next attempt\t#%d at %s\n", s.NextPending.Ordinal, fmtTime(s.NextPending.ScheduledTime))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "#\tSCHEDULED\tSTATUS\tFAILED CATEGORIES\tERROR")
	for _, a := range s.Attempts {
		var failed []string
		for _, c := range domain.Categories() {
			if ok, executed := a.Results[c.String()]; executed && !ok {
				failed = append(failed, c.String())
			}
		}
		errText := ""
		if a.Error != nil {
			errText = *a.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", a.Ordinal, fmtTime(a.ScheduledTime), a.Status, strings.Join(failed, ","), errText)
	}
	return tw.Flush()
}

func writeScheduleTable(w io.Writer, items []*usecase.ScheduleSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tNAME\tLIFECYCLE\tSUCCESS\tNEXT")
	for _, s := range items {
		next := "-"
		if s.NextPending != nil {
			next = "#" + strconv.Itoa(s.NextPending.Ordinal) + " " + fmtTime(s.NextPending.ScheduledTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\n", s.Key, s.EventName, s.Lifecycle, s.SuccessRate*100, next)
	}
	return tw.Flush()
}

func writeRefs(w io.Writer, refs []usecase.AttemptRef) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tATTEMPT\tSCHEDULED\tSTATUS")
	for _, r := range refs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Key, r.Ordinal, fmtTime(r.ScheduledTime), r.Status)
	}
	return tw.Flush()
}

func writeOrchestration(w io.Writer, sum *usecase.OrchestratorSummary) error {
	fmt.Fprintf(w, "events %d: %d newly scheduled, %d already scheduled, %d expired, %d failed\n",
		sum.Total, sum.NewlyScheduled, sum.AlreadyScheduled, sum.Expired, sum.Failed)
	for _, f := range sum.Failures {
		fmt.Fprintf(w, "  %s: %s\n", f.Key, f.Error)
	}
	return nil
}

type outcomeJSON struct {
	Key     domain.EventKey `json:"event_key"`
	Ordinal int             `json:"attempt"`
	Status  domain.Status   `json:"status"`
	Results map[string]bool `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
	Skipped bool            `json:"skipped"`
}

func outcomeView(o *usecase.AttemptOutcome) outcomeJSON {
	v := outcomeJSON{Key: o.Key, Ordinal: o.Ordinal, Status: o.Status, Error: o.Error, Skipped: o.Skipped}
	if o.Results != nil {
		v.Results = o.Results.Map()
	}
	return v
}
