package dataloader

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"io"

	"csvloader/internal/apperrors"
)

// ReaderOptions configures NewReader.
type ReaderOptions struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// Strict turns any field-count mismatch against the header row into a
	// parse error instead of zipping to the shorter length.
	Strict bool
}

// Row is one data record of the CSV file.
type Row struct {
	// Number is the 1-based position among data rows, header excluded.
	Number int
	// Line is the line in the file where the record starts.
	Line   int
	Fields []string

	headers []string
}

// Document zips the row against the header row. Missing trailing fields
// leave their headers out of the document; extra fields are dropped.
func (r Row) Document() *Document {
	return NewDocument(r.headers, r.Fields)
}

// Reader is a forward-only reader over the data rows of a CSV stream. The
// header row is consumed by NewReader and never returned by Next.
type Reader struct {
	csv     *csv.Reader
	headers []string
	rows    int
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func NewReader(r io.Reader, opts ReaderOptions) (*Reader, error) {
	br := bufio.NewReader(r)
	// The BOM has to go before parsing, or a quoted first header is a bare quote.
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	if opts.Strict {
		// 0: the header row fixes the field count for every record.
		cr.FieldsPerRecord = 0
	} else {
		cr.FieldsPerRecord = -1
	}

	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		// An empty file has no columns and no rows.
		return &Reader{csv: cr}, nil
	}
	if err != nil {
		return nil, readError(err, "reading header row")
	}
	return &Reader{csv: cr, headers: headers}, nil
}

func (r *Reader) Headers() []string {
	return r.headers
}

// Next returns the next data row, or io.EOF once the input is exhausted.
func (r *Reader) Next() (Row, error) {
	if r.headers == nil {
		return Row{}, io.EOF
	}
	record, err := r.csv.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	}
	if err != nil {
		return Row{}, readError(err, "reading data row")
	}
	r.rows++
	line, _ := r.csv.FieldPos(0)
	return Row{
		Number:  r.rows,
		Line:    line,
		Fields:  record,
		headers: r.headers,
	}, nil
}

func readError(err error, what string) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return apperrors.Wrap(apperrors.ErrParse, err, what)
	}
	return apperrors.Wrap(apperrors.ErrIO, err, what)
}
