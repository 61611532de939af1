package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cuemby/fleetconsole/pkg/types"
)

const (
	colorGreen  = lipgloss.Color("2")
	colorRed    = lipgloss.Color("1")
	colorYellow = lipgloss.Color("3")
	colorGray   = lipgloss.Color("8")
	colorCyan   = lipgloss.Color("6")

	columnGap = "  "
)

var instanceColumns = []string{"", "HOSTNAME", "AGE", "UPTIME", "CURRENT", "NEXT", "STATUS"}

// Table renders fleet snapshots as text for a terminal
type Table struct {
	prefs types.Preferences

	// ShowBuilds lists the manifest builds under each image type
	ShowBuilds bool

	header   lipgloss.Style
	title    lipgloss.Style
	stale    lipgloss.Style
	target   lipgloss.Style
	muted    lipgloss.Style
	errStyle lipgloss.Style
	ok       lipgloss.Style
	pending  lipgloss.Style
	link     lipgloss.Style
}

// NewTable creates a table that renders for w. Colors are only emitted when
// w is a terminal.
func NewTable(w io.Writer, prefs types.Preferences) *Table {
	r := lipgloss.NewRenderer(w)
	return &Table{
		prefs:    prefs,
		header:   r.NewStyle().Bold(true).Foreground(colorGray),
		title:    r.NewStyle().Bold(true).Foreground(colorCyan),
		stale:    r.NewStyle().Foreground(colorRed),
		target:   r.NewStyle().Foreground(colorGreen),
		muted:    r.NewStyle().Foreground(colorGray),
		errStyle: r.NewStyle().Foreground(colorRed),
		ok:       r.NewStyle().Foreground(colorGreen),
		pending:  r.NewStyle().Foreground(colorYellow),
		link:     r.NewStyle().Underline(true),
	}
}

// Render formats snap
func (t *Table) Render(snap *types.FleetSnapshot) string {
	var b strings.Builder

	b.WriteString(t.status(snap))
	b.WriteString("\n")

	if len(snap.ImageTypes) == 0 {
		b.WriteString(t.muted.Render("no image types"))
		b.WriteString("\n")
		return b.String()
	}

	for _, it := range snap.ImageTypes {
		b.WriteString("\n")
		t.renderImageType(&b, it)
	}
	return b.String()
}

// RenderManifest formats the builds of one image type's manifest
func (t *Table) RenderManifest(imageType string, m *types.Manifest) string {
	var b strings.Builder
	b.WriteString(t.title.Render(imageType))
	b.WriteString("\n")
	t.renderBuilds(&b, types.ImageTypeView{Name: imageType, Manifest: m})
	return b.String()
}

func (t *Table) status(snap *types.FleetSnapshot) string {
	state := t.ok.Render("connected")
	if !snap.Connected {
		state = t.errStyle.Render("disconnected, reconnecting")
	}
	return fmt.Sprintf("%s  %s", state, t.muted.Render(fmt.Sprintf(
		"%d image types, %d instances, %s",
		len(snap.ImageTypes), snap.InstanceCount(), snap.GeneratedAt.Format(time.TimeOnly),
	)))
}

func (t *Table) renderImageType(b *strings.Builder, it types.ImageTypeView) {
	title := t.title.Render(it.Name)
	switch {
	case it.ManifestError != "":
		title += "  " + t.errStyle.Render("manifest: "+it.ManifestError)
	case it.Manifest == nil:
		title += "  " + t.pending.Render("manifest: loading")
	default:
		title += "  " + t.muted.Render(fmt.Sprintf("manifest: %d builds", len(it.Manifest.Builds)))
	}
	if it.SelectorHost != "" {
		title += "  " + t.target.Render("selecting for "+it.SelectorHost)
	}
	b.WriteString(title)
	b.WriteString("\n")

	if len(it.Instances) == 0 {
		b.WriteString("  " + t.muted.Render("no instances"))
		b.WriteString("\n")
	} else {
		rows := make([][]string, 0, len(it.Instances))
		styles := make([]*lipgloss.Style, 0, len(it.Instances))
		for _, inst := range it.Instances {
			rows = append(rows, t.instanceRow(inst))
			if inst.IsStale {
				styles = append(styles, &t.stale)
			} else {
				styles = append(styles, nil)
			}
		}
		t.writeRows(b, instanceColumns, rows, styles)
	}

	if t.ShowBuilds && it.Manifest != nil {
		t.renderBuilds(b, it)
	}
}

func (t *Table) instanceRow(inst types.Instance) []string {
	marker := " "
	if inst.IsTarget {
		marker = "*"
	}
	age := inst.AgeLabel
	if inst.IsStale {
		age += " stale"
	}
	return []string{
		marker,
		inst.Hostname,
		age,
		inst.UptimeLabel,
		t.version(inst.CurrentImageTimestamp, inst.CurrentVolumeID),
		t.version(inst.NextImageTimestamp, inst.NextVolumeID),
		inst.Status,
	}
}

// version formats a build timestamp with its truncated volume id
func (t *Table) version(timestamp int64, volumeID string) string {
	if timestamp == 0 && volumeID == "" {
		return "-"
	}
	s := strconv.FormatInt(timestamp, 10)
	if volumeID != "" {
		s += " " + t.prefs.TruncateVolumeID(volumeID)
	}
	return s
}

func (t *Table) renderBuilds(b *strings.Builder, it types.ImageTypeView) {
	b.WriteString("  " + t.header.Render("BUILDS"))
	b.WriteString("\n")
	if len(it.Manifest.Builds) == 0 {
		b.WriteString("  " + t.muted.Render("none published"))
		b.WriteString("\n")
		return
	}

	for _, build := range it.Manifest.Builds {
		line := fmt.Sprintf("  %d  %s", build.Timestamp,
			time.Unix(build.Timestamp, 0).UTC().Format("2006-01-02 15:04"))
		if build.VolumeID != "" {
			line += "  " + t.prefs.TruncateVolumeID(build.VolumeID)
		}
		if link := t.prefs.VolumeLink(build.VolumeID); link != "" {
			line += "  " + t.link.Render(link)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
}

// writeRows writes an aligned table. A nil style leaves the row plain.
func (t *Table) writeRows(b *strings.Builder, columns []string, rows [][]string, styles []*lipgloss.Style) {
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = lipgloss.Width(c)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	b.WriteString("  " + t.header.Render(joinPadded(columns, widths)))
	b.WriteString("\n")
	for i, row := range rows {
		line := joinPadded(row, widths)
		if styles[i] != nil {
			line = styles[i].Render(line)
		} else if row[0] == "*" {
			line = t.target.Render(row[0]) + line[len(row[0]):]
		}
		b.WriteString("  " + line)
		b.WriteString("\n")
	}
}

func joinPadded(cells []string, widths []int) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}
		parts[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
	}
	return strings.TrimRight(strings.Join(parts, columnGap), " ")
}
