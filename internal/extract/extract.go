// Package extract turns raw report PDF bytes into table rows. Digital PDFs
// go through pdfcpu content-stream text extraction; documents without a
// usable text layer are flagged as image-based for alternate handling.
package extract

import (
	"bytes"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/palengke-labs/pricewatch/internal/dates"
	"github.com/palengke-labs/pricewatch/internal/model"
)

// Extractor converts PDF bytes into an ExtractionResult. It is stateless and
// deterministic: identical input bytes always yield the same result.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract classifies the report as text-based or image-based and, for text
// PDFs, returns the extracted table rows in reading order.
func (e *Extractor) Extract(report model.Report) model.ExtractionResult {
	conf := pdfmodel.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(report.Content), conf)
	if err != nil {
		return model.ExtractionResult{
			Kind:   model.ExtractionKindFailed,
			Reason: "pdf read: " + err.Error(),
		}
	}

	var rows []model.RawTableRow
	var fullText bytes.Buffer
	line := 0
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		for _, text := range extractPageLines(ctx, pageNr) {
			line++
			rows = append(rows, model.RawTableRow{Page: pageNr, Line: line, Text: text})
			fullText.WriteString(text)
			fullText.WriteByte('\n')
		}
	}

	text := fullText.String()
	if isGarbageText(text) {
		if hasImageStreams(ctx) || len(rows) == 0 {
			zap.L().Info("report flagged as image-based",
				zap.String("url", report.Ref.URL),
				zap.Int("pages", ctx.PageCount),
				zap.Int("chars", len(text)),
			)
			return model.ExtractionResult{
				Kind:      model.ExtractionKindImage,
				PageCount: ctx.PageCount,
			}
		}
		return model.ExtractionResult{
			Kind:   model.ExtractionKindFailed,
			Reason: "extracted text failed quality checks",
		}
	}

	result := model.ExtractionResult{
		Kind: model.ExtractionKindText,
		Rows: rows,
	}
	if report.Ref.Date == nil {
		result.DocumentDate = dates.FromDocumentText(text)
	}
	return result
}

// extractPageLines extracts text lines from one page's content stream.
func extractPageLines(ctx *pdfmodel.Context, pageNr int) []string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return nil
	}
	data := new(bytes.Buffer)
	if _, err := data.ReadFrom(r); err != nil || data.Len() == 0 {
		return nil
	}
	return streamLines(data.Bytes())
}

// hasImageStreams checks whether the PDF contains image XObjects.
func hasImageStreams(ctx *pdfmodel.Context) bool {
	if ctx.Optimize == nil {
		return false
	}
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
			return true
		}
	}
	return false
}
