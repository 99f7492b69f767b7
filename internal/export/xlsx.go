package export

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

const sheetName = "places"

// WriteXLSX writes rows to a single-sheet workbook. Coordinates are numeric
// cells; everything else is text.
func WriteXLSX(path string, rows []Row) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}

	for _, r := range rows {
		row := sheet.AddRow()
		for i, v := range r.values() {
			cell := row.AddCell()
			if Columns[i] == "lat" || Columns[i] == "lng" {
				if num, err := strconv.ParseFloat(v, 64); err == nil {
					cell.SetFloat(num)
					continue
				}
			}
			cell.SetString(v)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}
