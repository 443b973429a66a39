package pipeline

// ingest.go loads raw CSV files into staged records.
//
// Only structure is checked here (required header columns, row width).
// Values are kept as text so the quality engine can measure bad data instead
// of it being rejected on the way in.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/ecompipe/internal/core"
)

// ReadEntityFile reads the raw CSV at path for def. A missing file is a
// configuration error.
func ReadEntityFile(path string, def core.EntityDefinition, ingestedAt time.Time) ([]core.StagedRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.Configuration("pipeline.ingest", fmt.Errorf("%s: raw file not found", def.FileName))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", def.FileName, err)
	}
	defer f.Close()

	return ReadEntity(f, def, ingestedAt)
}

// ReadEntity parses CSV from r into staged records for def. A leading BOM is
// dropped and invalid UTF-8 is replaced with U+FFFD. Rows are numbered from 1
// after the header.
func ReadEntity(r io.Reader, def core.EntityDefinition, ingestedAt time.Time) ([]core.StagedRecord, error) {
	op := "pipeline.ingest " + def.Name

	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, core.Configuration(op, fmt.Errorf("%s: file is empty", def.FileName))
	}
	if err != nil {
		return nil, core.Configuration(op, fmt.Errorf("%s: read header: %w", def.FileName, err))
	}
	idx, err := core.ValidateHeaders(header, def)
	if err != nil {
		return nil, core.Configuration(op, err)
	}

	var rows []core.StagedRecord
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, core.Configuration(op, fmt.Errorf("%s: %w", def.FileName, err))
		}
		if err := core.ValidateWidth(rec, len(header), line); err != nil {
			return nil, core.Configuration(op, fmt.Errorf("%s: %w", def.FileName, err))
		}

		values := make(map[string]string, len(def.Fields))
		for _, f := range def.Fields {
			values[f.Name] = idx.Cell(rec, f.Name)
		}
		rows = append(rows, core.StagedRecord{
			Entity:     def.Name,
			Row:        len(rows) + 1,
			IngestedAt: ingestedAt,
			Values:     values,
		})
	}
	return rows, nil
}
