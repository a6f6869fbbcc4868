// Package dwca reads Darwin Core Archives: a zip file with a meta.xml
// descriptor, a delimited core data file, optional extension files and an
// embedded metadata document.
package dwca

import (
	"archive/zip"
	"bufio"
	"encoding/xml"
	"io"
	"log/slog"
	"strings"

	"github.com/polarbio/occurharvest/internal/errors"
	"github.com/polarbio/occurharvest/internal/logging"
)

// CoreTypeOccurrence is the row type URI of an occurrence core table.
const CoreTypeOccurrence = "http://rs.tdwg.org/dwc/terms/Occurrence"

const descriptorName = "meta.xml"

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/dwca.log", "dwca", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.Default().With("service", "dwca")
	}
}

// Field maps one column index to a term URI, with an optional default value
// applied to every row.
type Field struct {
	Index   *int   `xml:"index,attr"`
	Term    string `xml:"term,attr"`
	Default string `xml:"default,attr"`
}

// idField marks the row identifier column.
type idField struct {
	Index *int `xml:"index,attr"`
}

// FileBlock describes one data file of the archive: the core or an extension.
type FileBlock struct {
	RowType            string   `xml:"rowType,attr"`
	FieldsTerminatedBy string   `xml:"fieldsTerminatedBy,attr"`
	LinesTerminatedBy  string   `xml:"linesTerminatedBy,attr"`
	FieldsEnclosedBy   string   `xml:"fieldsEnclosedBy,attr"`
	IgnoreHeaderLines  int      `xml:"ignoreHeaderLines,attr"`
	Encoding           string   `xml:"encoding,attr"`
	Locations          []string `xml:"files>location"`
	ID                 *idField `xml:"id"`
	CoreID             *idField `xml:"coreid"`
	Fields             []Field  `xml:"field"`
}

// delimiter decodes the escaped separator notation used in descriptors.
func (fb *FileBlock) delimiter() string {
	switch fb.FieldsTerminatedBy {
	case "\\t", "":
		return "\t"
	default:
		return strings.NewReplacer(`\t`, "\t", `\n`, "\n", `\r`, "\r").Replace(fb.FieldsTerminatedBy)
	}
}

// descriptor is the parsed meta.xml.
type descriptor struct {
	XMLName    xml.Name    `xml:"archive"`
	Metadata   string      `xml:"metadata,attr"`
	Core       FileBlock   `xml:"core"`
	Extensions []FileBlock `xml:"extension"`
}

// Row is one record of a data file, keyed by term URI. Values carry field
// defaults where the file had no column for the term.
type Row map[string]string

// Archive is an open Darwin Core Archive.
type Archive struct {
	path   string
	reader *zip.ReadCloser
	desc   descriptor
}

// Open opens an archive and parses its descriptor. A zip without a readable
// meta.xml is reported as a parsing failure so callers can mark the archive
// invalid rather than retry it.
func Open(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.New(err).
			Component("dwca").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	a := &Archive{path: path, reader: zr}
	meta, err := a.open(descriptorName)
	if err != nil {
		zr.Close()
		return nil, err
	}
	defer meta.Close()

	if err := xml.NewDecoder(meta).Decode(&a.desc); err != nil {
		zr.Close()
		return nil, errors.New(err).
			Component("dwca").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Context("file", descriptorName).
			Build()
	}
	if len(a.desc.Core.Locations) == 0 {
		zr.Close()
		return nil, errors.Newf("descriptor lists no core data file").
			Component("dwca").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	return a, nil
}

// Close releases the underlying zip reader.
func (a *Archive) Close() error {
	return a.reader.Close()
}

// Path returns the archive file path.
func (a *Archive) Path() string { return a.path }

// CoreRowType returns the row type URI of the core table.
func (a *Archive) CoreRowType() string { return a.desc.Core.RowType }

// Extensions returns the descriptors of the archive's extension files.
func (a *Archive) Extensions() []FileBlock { return a.desc.Extensions }

// open returns a reader for one member file of the zip.
func (a *Archive) open(name string) (io.ReadCloser, error) {
	for _, f := range a.reader.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, errors.New(err).
					Component("dwca").
					Category(errors.CategoryFileParsing).
					Context("path", a.path).
					Context("file", name).
					Build()
			}
			return rc, nil
		}
	}
	return nil, errors.Newf("archive member %q not found", name).
		Component("dwca").
		Category(errors.CategoryFileParsing).
		Context("path", a.path).
		Build()
}

// EML returns the embedded metadata document. The descriptor names the file;
// eml.xml is the conventional fallback when it does not.
func (a *Archive) EML() ([]byte, error) {
	name := a.desc.Metadata
	if name == "" {
		name = "eml.xml"
	}
	rc, err := a.open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.New(err).
			Component("dwca").
			Category(errors.CategoryFileParsing).
			Context("path", a.path).
			Context("file", name).
			Build()
	}
	return data, nil
}

// ReadCore streams every core row to fn in file order. Iteration stops at
// the first error fn returns.
func (a *Archive) ReadCore(fn func(Row) error) error {
	return a.readBlock(&a.desc.Core, fn)
}

// ReadExtension streams the rows of one extension file.
func (a *Archive) ReadExtension(fb *FileBlock, fn func(Row) error) error {
	return a.readBlock(fb, fn)
}

func (a *Archive) readBlock(fb *FileBlock, fn func(Row) error) error {
	sep := fb.delimiter()
	enclosure := strings.NewReplacer(`\"`, `"`, `\'`, `'`).Replace(fb.FieldsEnclosedBy)

	for _, location := range fb.Locations {
		rc, err := a.open(location)
		if err != nil {
			return err
		}
		if err := a.scanFile(rc, fb, sep, enclosure, fn); err != nil {
			rc.Close()
			return err
		}
		rc.Close()
	}
	return nil
}

func (a *Archive) scanFile(r io.Reader, fb *FileBlock, sep, enclosure string, fn func(Row) error) error {
	scanner := bufio.NewScanner(r)
	// Occurrence rows with long verbatim fields routinely exceed the
	// default token size.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= fb.IgnoreHeaderLines {
			continue
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := fn(fb.parseRow(line, sep, enclosure)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.New(err).
			Component("dwca").
			Category(errors.CategoryFileParsing).
			Context("path", a.path).
			Context("line", lineNo).
			Build()
	}
	return nil
}

// parseRow splits a data line into a term-keyed row, applying defaults.
func (fb *FileBlock) parseRow(line, sep, enclosure string) Row {
	cols := strings.Split(line, sep)
	row := make(Row, len(fb.Fields))
	for _, f := range fb.Fields {
		value := f.Default
		if f.Index != nil && *f.Index < len(cols) {
			v := cols[*f.Index]
			if enclosure != "" {
				v = strings.TrimPrefix(strings.TrimSuffix(v, enclosure), enclosure)
			}
			if v != "" {
				value = v
			}
		}
		if f.Term != "" {
			row[f.Term] = value
		}
	}
	return row
}
