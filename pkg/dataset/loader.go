package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/stampede/pkg/jsonpath"
)

// LoadOptions controls how a dataset file is turned into records.
type LoadOptions struct {
	// Select locates the record array inside a JSON document, either as a
	// gjson path ("employees") or a JSONPath ("$.employees"). Empty means the
	// document itself is the array.
	Select string

	// SchemaFile is an optional JSON Schema every record must satisfy.
	SchemaFile string
}

// LoadFile loads records from a JSON or CSV file. The format is picked by
// extension; anything other than .csv is read as JSON.
func LoadFile(path string, opts LoadOptions) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var validator *SchemaValidator
	if opts.SchemaFile != "" {
		if validator, err = CompileSchemaFile(opts.SchemaFile); err != nil {
			return nil, err
		}
	}

	var ds *Dataset
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		ds, err = parseCSV(bytes.NewReader(data), validator)
	} else {
		ds, err = parseJSON(data, opts.Select, validator)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ds.source = path
	return ds, nil
}

// ParseJSON parses records from a JSON document.
func ParseJSON(data []byte, opts LoadOptions) (*Dataset, error) {
	var validator *SchemaValidator
	if opts.SchemaFile != "" {
		v, err := CompileSchemaFile(opts.SchemaFile)
		if err != nil {
			return nil, err
		}
		validator = v
	}
	return parseJSON(data, opts.Select, validator)
}

func parseJSON(data []byte, selectPath string, validator *SchemaValidator) (*Dataset, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON document")
	}

	root, err := jsonpath.Lookup(data, selectPath)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("expected an array of records, got %s", root.Type)
	}

	var (
		records []Record
		loadErr error
	)
	root.ForEach(func(_, item gjson.Result) bool {
		idx := len(records)
		if !item.IsObject() {
			loadErr = fmt.Errorf("record %d: expected an object, got %s", idx, item.Type)
			return false
		}
		if validator != nil {
			if err := validator.ValidateRaw(item.Raw); err != nil {
				loadErr = fmt.Errorf("record %d: %w", idx, err)
				return false
			}
		}
		records = append(records, recordFromJSON(item))
		return true
	})
	if loadErr != nil {
		return nil, loadErr
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}
	return &Dataset{records: records}, nil
}

func recordFromJSON(obj gjson.Result) Record {
	var fields []Field
	obj.ForEach(func(key, value gjson.Result) bool {
		fields = append(fields, Field{Name: key.String(), Value: valueFromJSON(value)})
		return true
	})
	return NewRecord(fields...)
}

func valueFromJSON(v gjson.Result) Value {
	switch v.Type {
	case gjson.String:
		return String(v.Str)
	case gjson.Number:
		return numberLiteral(v.Num, v.Raw)
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	case gjson.JSON:
		return Raw(v.Raw)
	default:
		return Null()
	}
}

// parseCSV reads a header row followed by data rows. Every value is a string.
func parseCSV(r io.Reader, validator *SchemaValidator) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records), err)
		}
		fields := make([]Field, len(header))
		for i, name := range header {
			fields[i] = Field{Name: name, Value: String(row[i])}
		}
		rec := NewRecord(fields...)
		if validator != nil {
			if err := validator.ValidateRecord(rec); err != nil {
				return nil, fmt.Errorf("record %d: %w", len(records), err)
			}
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}
	return &Dataset{records: records}, nil
}
