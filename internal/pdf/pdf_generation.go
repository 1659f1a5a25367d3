package pdf

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"taskforest/internal/hierarchy"
	"taskforest/internal/models"
	"taskforest/internal/timeline"
)

// Exporter renders a task subtree as a document.
type Exporter interface {
	Export(w io.Writer, root *models.TaskNode) error
}

// TreeExporter writes an A4 PDF outline of a subtree. Without FontPath the
// built-in Helvetica is used, which covers Latin-1 only.
type TreeExporter struct {
	FontPath string // TTF with wider coverage, e.g. "assets/fonts/DejaVuSans.ttf"
	now      func() time.Time
}

func NewTreeExporter(fontPath string) *TreeExporter {
	return &TreeExporter{FontPath: fontPath, now: time.Now}
}

// doc carries per-export state so one exporter can serve concurrent requests.
type doc struct {
	pdf  *gofpdf.Fpdf
	font string
	tr   func(string) string
}

func (g *TreeExporter) Export(w io.Writer, root *models.TaskNode) error {
	if root == nil {
		return fmt.Errorf("nothing to export")
	}
	now := time.Now
	if g.now != nil {
		now = g.now
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	d := &doc{pdf: pdf, font: "Helvetica", tr: func(s string) string { return s }}
	if g.FontPath != "" {
		d.font = "DejaVu"
		pdf.AddUTF8Font(d.font, "", g.FontPath)
		pdf.AddUTF8Font(d.font, "B", g.FontPath)
	} else {
		d.tr = pdf.UnicodeTranslatorFromDescriptor("")
	}

	pdf.SetTitle(root.Title, true)
	pdf.SetAuthor("taskforest", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(d.font, "", 9)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(d.font, "B", 16)
	pdf.MultiCell(0, 8, d.tr(root.Title), "", "C", false)
	pdf.SetFont(d.font, "", 10)
	pdf.CellFormat(0, 6, "Exported "+now().UTC().Format("2006-01-02 15:04 MST"), "", 1, "C", false, 0, "")
	d.hr()

	total, done := 0, 0
	hierarchy.Walk(root, func(n *models.TaskNode, depth int) {
		if depth == 0 {
			return
		}
		total++
		if n.Status == models.StatusDone {
			done++
		}
	})

	d.sectionTitle("Summary")
	d.kvLine("Status", string(root.Status))
	d.kvLine("Timeline", windowText(root.Window()))
	d.kvLine("Subtasks", fmt.Sprintf("%d (%d done)", total, done))
	if root.Description != nil {
		pdf.Ln(1)
		pdf.SetFont(d.font, "", 11)
		pdf.MultiCell(0, 6, d.tr(*root.Description), "", "L", false)
	}
	pdf.Ln(2)
	d.hr()

	d.sectionTitle("Outline")
	hierarchy.Walk(root, func(n *models.TaskNode, depth int) {
		indent := 6 * float64(depth)
		if indent > 60 {
			indent = 60
		}
		pdf.SetX(20 + indent)
		pdf.SetFont(d.font, "B", 11)
		pdf.MultiCell(0, 6, d.tr(fmt.Sprintf("[%s] %s", n.Status, n.Title)), "", "L", false)
		if w := n.Window(); !w.IsZero() {
			pdf.SetX(20 + indent)
			pdf.SetFont(d.font, "", 9)
			pdf.CellFormat(0, 5, windowText(w), "", 1, "L", false, 0, "")
		}
	})

	return pdf.Output(w)
}

func (d *doc) sectionTitle(s string) {
	d.pdf.SetFont(d.font, "B", 12)
	d.pdf.CellFormat(0, 7, d.tr(s), "", 1, "L", false, 0, "")
	d.pdf.SetFont(d.font, "", 11)
}

func (d *doc) kvLine(key, val string) {
	d.pdf.SetFont(d.font, "B", 11)
	d.pdf.CellFormat(45, 6, d.tr(key+":"), "", 0, "L", false, 0, "")
	d.pdf.SetFont(d.font, "", 11)
	d.pdf.CellFormat(0, 6, d.tr(val), "", 1, "L", false, 0, "")
}

func (d *doc) hr() {
	y := d.pdf.GetY() + 1.5
	d.pdf.SetLineWidth(0.2)
	d.pdf.Line(20, y, 190, y)
	d.pdf.SetY(y + 2)
}

func windowText(w timeline.Window) string {
	const layout = "2006-01-02"
	switch {
	case w.Start != nil && w.End != nil:
		return w.Start.UTC().Format(layout) + " to " + w.End.UTC().Format(layout)
	case w.Start != nil:
		return "from " + w.Start.UTC().Format(layout)
	case w.End != nil:
		return "until " + w.End.UTC().Format(layout)
	default:
		return "no dates"
	}
}
