package services

import (
	"bytes"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"

	"github.com/perch-social/perch/modules/social/domain/importjob"
)

// writeFailureWorkbook renders the failure report as a single-sheet
// workbook using the same columns as the CSV codec.
func writeFailureWorkbook(kind importjob.Kind, payloads []importjob.RowPayload) ([]byte, error) {
	codec := importjob.CodecFor(kind)

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	sheet := f.GetSheetName(0)
	rowIdx := 1
	if header := codec.Header(); header != nil {
		cells := make([]interface{}, len(header))
		for i, h := range header {
			cells[i] = h
		}
		if err := setWorkbookRow(f, sheet, rowIdx, cells); err != nil {
			return nil, err
		}
		rowIdx++
	}
	for _, p := range payloads {
		fields := codec.Encode(p)
		cells := make([]interface{}, len(fields))
		for i, v := range fields {
			cells[i] = v
		}
		if err := setWorkbookRow(f, sheet, rowIdx, cells); err != nil {
			return nil, err
		}
		rowIdx++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to write workbook")
	}
	return buf.Bytes(), nil
}

func setWorkbookRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(err, "failed to address workbook cell")
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return errors.Wrap(err, "failed to set workbook row")
	}
	return nil
}
