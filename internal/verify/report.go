package verify

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Render lays the report out as the text artifact: five numbered
// sections and the summary counts.
func (r Report) Render() string {
	var b strings.Builder
	b.WriteString("question bank verification report\n")
	fmt.Fprintf(&b, "records: %d  image refs: %d  unique images: %d\n", r.Records, r.ImageRefs, r.UniqueImages)

	section(&b, "1. missing assets")
	if len(r.MissingAssets) == 0 {
		none(&b)
	} else {
		t := newTable(table.Row{"question", "option", "path"})
		for _, m := range r.MissingAssets {
			t.AppendRow(table.Row{m.QuestionID, m.Option, m.Path})
		}
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	section(&b, "2. image reuse")
	if len(r.Reuse) == 0 {
		none(&b)
	} else {
		t := newTable(table.Row{"image", "refs", "questions", "note"})
		for _, u := range r.Reuse {
			note := ""
			if u.Excessive {
				note = "over threshold, likely extraction bug"
			}
			t.AppendRow(table.Row{u.Path, u.Refs, u.Questions, note})
		}
		b.WriteString(t.Render())
		b.WriteString("\n")
		for _, u := range r.Reuse {
			if !u.Excessive {
				continue
			}
			fmt.Fprintf(&b, "%s:\n", u.Path)
			for _, ex := range u.Examples {
				fmt.Fprintf(&b, "  - %s\n", ex)
			}
		}
	}

	section(&b, "3. incomplete records")
	if len(r.Incomplete) == 0 {
		none(&b)
	} else {
		t := newTable(table.Row{"question", "issues"})
		for _, inc := range r.Incomplete {
			t.AppendRow(table.Row{inc.ID, strings.Join(inc.Issues, ", ")})
		}
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	section(&b, "4. digest consistency")
	if len(r.Conflicts) == 0 {
		none(&b)
	} else {
		t := newTable(table.Row{"digest", "field", "questions"})
		for _, c := range r.Conflicts {
			t.AppendRow(table.Row{c.Digest[:8], c.Field, strings.Join(c.Questions, ", ")})
		}
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	section(&b, "5. orphaned images")
	if len(r.Orphans) == 0 {
		none(&b)
	} else {
		for _, p := range r.Orphans {
			fmt.Fprintf(&b, "  %s\n", p)
		}
	}

	section(&b, "summary")
	t := newTable(table.Row{"check", "findings"})
	t.AppendRow(table.Row{"missing assets", len(r.MissingAssets)})
	t.AppendRow(table.Row{"image reuse", len(r.Reuse)})
	t.AppendRow(table.Row{"incomplete records", len(r.Incomplete)})
	t.AppendRow(table.Row{"digest conflicts", len(r.Conflicts)})
	t.AppendRow(table.Row{"orphaned images", len(r.Orphans)})
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(header)
	return t
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n%s\n", title)
}

func none(b *strings.Builder) {
	b.WriteString("  none\n")
}
