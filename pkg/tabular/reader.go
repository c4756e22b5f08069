// Package tabular reads row-oriented spreadsheets (xlsx, csv) one row at a time.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for extensions with no reader.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// RowError reports one row that could not be decoded. The reader stays usable:
// the next call to Next continues with the following row.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("malformed row at line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Reader yields rows in order. Next returns io.EOF after the last row and a
// *RowError for a single undecodable row; any other error means the source
// itself could not be read.
type Reader interface {
	Next() ([]string, error)
	Close() error
}

// Open returns a Reader for the given extension (".xlsx" or ".csv").
func Open(r io.Reader, ext string) (Reader, error) {
	switch strings.ToLower(ext) {
	case ".xlsx", ".xlsm":
		return openXLSX(r)
	case ".csv":
		return openCSV(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

type xlsxReader struct {
	file *excelize.File
	rows *excelize.Rows
}

func openXLSX(r io.Reader) (Reader, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		_ = file.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}
	active := file.GetActiveSheetIndex()
	if active < 0 || active >= len(sheets) {
		active = 0
	}
	rows, err := file.Rows(sheets[active])
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	return &xlsxReader{file: file, rows: rows}, nil
}

func (x *xlsxReader) Next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, fmt.Errorf("read sheet row: %w", err)
		}
		return nil, io.EOF
	}
	cols, err := x.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read sheet row: %w", err)
	}
	return cols, nil
}

func (x *xlsxReader) Close() error {
	_ = x.rows.Close()
	return x.file.Close()
}

type csvReader struct {
	r *csv.Reader
}

func openCSV(r io.Reader) (Reader, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comma = sniffDelimiter(br)
	return &csvReader{r: reader}, nil
}

func (c *csvReader) Next() ([]string, error) {
	record, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &RowError{Line: parseErr.StartLine, Err: parseErr.Err}
		}
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return record, nil
}

func (c *csvReader) Close() error { return nil }

// sniffDelimiter picks ';' when the header line uses it more than ','. Spreadsheet
// exports in French locales default to semicolons.
func sniffDelimiter(br *bufio.Reader) rune {
	peek, _ := br.Peek(4096)
	line := peek
	if idx := bytes.IndexByte(peek, '\n'); idx >= 0 {
		line = peek[:idx]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}
