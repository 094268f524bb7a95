package importjob

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/perch-social/perch/pkg/serrors"
)

var (
	ErrUnsupportedContentType = serrors.NewError("IMPORT_UNSUPPORTED_FILE", "uploaded file is not a CSV document", "Social.Imports.Errors.unsupported_file")
	ErrNoUsableRows           = serrors.NewError("IMPORT_EMPTY", "uploaded file contains no usable rows", "Social.Imports.Errors.empty")
	ErrTooManyRows            = serrors.NewError("IMPORT_TOO_LARGE", "uploaded file exceeds the row limit", "Social.Imports.Errors.too_large")
)

// ParseUpload decodes an uploaded byte stream into ordered row payloads for
// the declared kind. The whole batch is rejected when the content type is
// not textual, the row cap is exceeded, or not a single record decodes;
// individually malformed rows are dropped silently.
func ParseUpload(kind Kind, data []byte, maxRows int) ([]RowPayload, error) {
	codec := CodecFor(kind)
	if codec == nil {
		return nil, serrors.NewInvalidFieldError("type", "unknown import type", "Social.Imports.Errors.unknown_type")
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNoUsableRows
	}

	mtype := mimetype.Detect(data)
	if !mtype.Is("text/csv") && !mtype.Is("text/plain") && !mtype.Is("text/tab-separated-values") {
		return nil, ErrUnsupportedContentType
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var payloads []RowPayload
	first := true
	var columnMap map[int]int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Unparseable remainder; keep what already decoded.
			break
		}

		if first {
			first = false
			if m, ok := matchHeader(codec, record); ok {
				columnMap = m
				continue
			}
		}

		if blankRecord(record) {
			continue
		}
		if len(record) > codec.Columns() && columnMap == nil {
			// Wider than this kind's schema: a file built for another kind.
			continue
		}

		payload, err := codec.Decode(canonicalize(codec, record, columnMap))
		if err != nil {
			continue
		}
		payloads = append(payloads, payload)
		if maxRows > 0 && len(payloads) > maxRows {
			return nil, ErrTooManyRows
		}
	}

	if len(payloads) == 0 {
		return nil, ErrNoUsableRows
	}
	return payloads, nil
}

// matchHeader reports whether record is the kind's header row, and if so
// returns a mapping from upload column index to canonical column index.
func matchHeader(codec RowCodec, record []string) (map[int]int, bool) {
	header := codec.Header()
	if header == nil || len(record) == 0 {
		return nil, false
	}
	if !strings.EqualFold(strings.TrimSpace(record[0]), header[0]) {
		return nil, false
	}

	m := make(map[int]int, len(record))
	for i, label := range record {
		for j, canonical := range header {
			if strings.EqualFold(strings.TrimSpace(label), canonical) {
				m[i] = j
				break
			}
		}
	}
	return m, true
}

func canonicalize(codec RowCodec, record []string, columnMap map[int]int) []string {
	if columnMap == nil {
		return record
	}
	canonical := make([]string, codec.Columns())
	for i, v := range record {
		if j, ok := columnMap[i]; ok && j < len(canonical) {
			canonical[j] = v
		}
	}
	return canonical
}

func blankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
