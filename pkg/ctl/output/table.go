package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/resolver"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
}

func WriteSystemFlagTable(w io.Writer, flags []control.SystemFlag) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "KEY\tVALUE\tUPDATED_BY\tUPDATED")
	for _, f := range flags {
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", f.Key, f.Value, dash(f.UpdatedBy), formatTime(f.UpdatedAt))
	}
	_ = tw.Flush()
}

func WriteTenantControlTable(w io.Writer, controls []control.TenantControl) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "TENANT\tKEY\tVALUE\tTENANT_ONLY\tREASON\tUPDATED_BY\tUPDATED")
	for _, c := range controls {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\t%s\t%s\n",
			c.TenantID, c.Key, c.Value, c.TenantOnly, dash(c.Reason), dash(c.UpdatedBy), formatTime(c.UpdatedAt))
	}
	_ = tw.Flush()
}

func WriteEffectiveControlTable(w io.Writer, controls []resolver.EffectiveControl) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE\tTENANT_ONLY")
	for _, c := range controls {
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%t\n", c.Key, c.Value, c.Source, c.TenantOnly)
	}
	_ = tw.Flush()
}

func WriteFailureTable(w io.Writer, records []control.FailureRecord) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "ID\tTENANT\tCATEGORY\tSOURCE\tSEVERITY\tACTIVE\tCOUNT\tLAST_SEEN\tMESSAGE")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%d\t%s\t%s\n",
			r.ID, r.TenantID, r.Category, r.Source, r.Severity, r.IsActive, r.Occurrences, formatTime(r.LastSeenAt), truncate(r.Message, 60))
	}
	_ = tw.Flush()
}

func WriteAuditTable(w io.Writer, entries []control.AuditEntry) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tKIND\tKEY\tTENANT\tCHANGE\tREASON")
	for _, e := range entries {
		previous := "-"
		if e.PreviousValue != nil {
			previous = strconv.FormatBool(*e.PreviousValue)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s->%t\t%s\n",
			formatTime(e.Timestamp), e.ActorID, e.Action, e.TargetKind, e.TargetKey, dash(e.TenantID), previous, e.NewValue, dash(e.Reason))
	}
	_ = tw.Flush()
}

func WriteHealthSnapshot(w io.Writer, snap resolver.HealthSnapshot) {
	_, _ = fmt.Fprintf(w, "Generated:     %s\n", formatTime(snap.GeneratedAt))
	_, _ = fmt.Fprintf(w, "Incident mode: %t\n\n", snap.IncidentMode)

	keys := make([]string, 0, len(snap.Flags))
	for k := range snap.Flags {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "FLAG\tVALUE")
	for _, k := range keys {
		_, _ = fmt.Fprintf(tw, "%s\t%t\n", k, snap.Flags[control.Key(k)])
	}
	_ = tw.Flush()

	_, _ = fmt.Fprintln(w)
	tw = newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "SEVERITY\tACTIVE_FAILURES")
	for _, sev := range control.Severities() {
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", sev, snap.FailureCounts[sev])
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
