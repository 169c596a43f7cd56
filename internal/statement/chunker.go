package statement

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrInvalidDocument marks input that is not a well-formed PDF or has no
// pages. It is fatal to the whole extraction.
var ErrInvalidDocument = errors.New("invalid document")

// PageRange is an inclusive 1-based page span.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk is a self-contained sub-document covering a bounded page range, the
// unit of external-call work.
type Chunk struct {
	Index int
	Pages PageRange
	Data  []byte
}

const defaultPagesPerChunk = 2

// Chunker splits a statement PDF into fixed-size page groups.
type Chunker struct {
	pagesPerChunk int
}

// NewChunker creates a chunker producing pagesPerChunk-page sub-documents.
func NewChunker(pagesPerChunk int) *Chunker {
	if pagesPerChunk <= 0 {
		pagesPerChunk = defaultPagesPerChunk
	}
	return &Chunker{pagesPerChunk: pagesPerChunk}
}

// PagesPerChunk returns the configured chunk size.
func (c *Chunker) PagesPerChunk() int {
	return c.pagesPerChunk
}

// PageCount validates the document and returns its page count.
func (c *Chunker) PageCount(data []byte) (int, error) {
	tempDir, err := os.MkdirTemp("", "bankscan-pages-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	source := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(source, data, 0600); err != nil {
		return 0, fmt.Errorf("writing source PDF: %w", err)
	}
	return pageCount(source)
}

func pageCount(path string) (int, error) {
	count, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: document has no pages", ErrInvalidDocument)
	}
	return count, nil
}

// Split produces the ordered chunk list. Each chunk is an independently
// submittable PDF covering its page range.
func (c *Chunker) Split(data []byte) ([]Chunk, error) {
	tempDir, err := os.MkdirTemp("", "bankscan-chunks-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	source := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(source, data, 0600); err != nil {
		return nil, fmt.Errorf("writing source PDF: %w", err)
	}

	total, err := pageCount(source)
	if err != nil {
		return nil, err
	}

	ranges := pageRanges(total, c.pagesPerChunk)
	chunks := make([]Chunk, 0, len(ranges))
	for i, r := range ranges {
		out := filepath.Join(tempDir, fmt.Sprintf("chunk-%03d.pdf", i))
		selection := []string{fmt.Sprintf("%d-%d", r.Start, r.End)}
		if err := api.TrimFile(source, out, selection, nil); err != nil {
			return nil, fmt.Errorf("%w: extracting pages %d-%d: %v", ErrInvalidDocument, r.Start, r.End, err)
		}
		chunkData, err := os.ReadFile(out)
		if err != nil {
			return nil, fmt.Errorf("reading chunk %d: %w", i, err)
		}
		chunks = append(chunks, Chunk{Index: i, Pages: r, Data: chunkData})
	}
	return chunks, nil
}

// pageRanges covers 1..total with ceil(total/per) inclusive spans; only the
// last span may be shorter than per.
func pageRanges(total, per int) []PageRange {
	ranges := make([]PageRange, 0, (total+per-1)/per)
	for start := 1; start <= total; start += per {
		end := start + per - 1
		if end > total {
			end = total
		}
		ranges = append(ranges, PageRange{Start: start, End: end})
	}
	return ranges
}
