package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset(rows int) Dataset {
	data := Dataset{
		Title:   "Batch 001 reconciliation",
		Summary: []string{"Total cards: 2"},
		Headers: []string{"card_id", "status"},
	}
	for i := 0; i < rows; i++ {
		data.Rows = append(data.Rows, map[string]string{"card_id": "C-" + strings.Repeat("1", i%5+1), "status": "PENDING"})
	}
	return data
}

func TestCSVExporterRendersHeadersAndRows(t *testing.T) {
	data := Dataset{
		Headers: []string{"card_id", "status"},
		Rows: []map[string]string{
			{"card_id": "A1", "status": "VERIFIED"},
			{"card_id": "B2"},
		},
	}

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "card_id,status\nA1,VERIFIED\nB2,\n", string(out))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRendersMultiplePages(t *testing.T) {
	exporter := NewPDFExporter()
	exporter.Widths = map[string]float64{"card_id": 2}

	out, err := exporter.Render(sampleDataset(120))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestPDFColumnWidthsFillPage(t *testing.T) {
	exporter := &PDFExporter{Widths: map[string]float64{"a": 3}}
	widths := exporter.columnWidths([]string{"a", "b"})
	assert.InDelta(t, pageWidth*0.75, widths[0], 0.001)
	assert.InDelta(t, pageWidth*0.25, widths[1], 0.001)
}
