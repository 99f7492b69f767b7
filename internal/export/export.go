// Package export writes collected places to CSV and XLSX files and merges an
// optional population table into the CSV output.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/suphelp/geo-cli/internal/model"
)

// Supported output formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// utf8BOM lets spreadsheet tools detect the encoding of the CSV files.
const utf8BOM = "\ufeff"

// Row is one exported place. Absent fields are rendered empty, never omitted.
type Row struct {
	PlaceID       string `csv:"place_id"`
	Name          string `csv:"name"`
	Address       string `csv:"address"`
	Lat           string `csv:"lat"`
	Lng           string `csv:"lng"`
	Types         string `csv:"types"`
	RegistryID    string `csv:"registry_id"`
	ContactURL    string `csv:"contact_url"`
	Phones        string `csv:"phones"`
	Emails        string `csv:"emails"`
	ContactStatus string `csv:"contact_status"`
}

// Columns is the fixed header of every export.
var Columns = []string{
	"place_id", "name", "address", "lat", "lng", "types",
	"registry_id", "contact_url", "phones", "emails", "contact_status",
}

func (r Row) values() []string {
	return []string{
		r.PlaceID, r.Name, r.Address, r.Lat, r.Lng, r.Types,
		r.RegistryID, r.ContactURL, r.Phones, r.Emails, r.ContactStatus,
	}
}

// NewRow flattens a record into its export row.
func NewRow(rec model.PlaceRecord) Row {
	row := Row{
		PlaceID: rec.ExternalID,
		Name:    rec.Name,
		Address: rec.FormattedAddress,
		Types:   strings.Join(rec.CategoryTags, ","),
	}
	if rec.Location != nil {
		row.Lat = formatCoord(rec.Location.Latitude)
		row.Lng = formatCoord(rec.Location.Longitude)
	}
	if c := rec.Contact; c != nil {
		row.RegistryID = c.RegistryID
		row.ContactURL = c.SourceURL
		row.Phones = strings.Join(c.Phones, "; ")
		row.Emails = strings.Join(c.Emails, "; ")
		row.ContactStatus = string(c.Status)
	}
	return row
}

// Rows converts records in order.
func Rows(recs []model.PlaceRecord) []Row {
	out := make([]Row, 0, len(recs))
	for _, r := range recs {
		out = append(out, NewRow(r))
	}
	return out
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Options configures an Exporter.
type Options struct {
	Dir           string
	Formats       []string
	PopulationCSV string
	MinPopulation int
}

// Exporter writes one file per configured format plus the population
// variants when a population table is configured.
type Exporter struct {
	opts Options
}

// New returns an Exporter. Empty Formats means CSV only.
func New(opts Options) *Exporter {
	if len(opts.Formats) == 0 {
		opts.Formats = []string{FormatCSV}
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	return &Exporter{opts: opts}
}

// Export writes recs under stem and returns the paths written.
func (e *Exporter) Export(ctx context.Context, stem string, recs []model.PlaceRecord) ([]string, error) {
	if err := os.MkdirAll(e.opts.Dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir %s", e.opts.Dir)
	}
	rows := Rows(recs)
	base := filepath.Join(e.opts.Dir, stem)

	var written []string
	for _, format := range e.opts.Formats {
		if err := ctx.Err(); err != nil {
			return written, eris.Wrap(err, "export: cancelled")
		}
		switch strings.ToLower(strings.TrimSpace(format)) {
		case FormatCSV:
			path := base + ".csv"
			if err := WriteCSV(path, rows); err != nil {
				return written, err
			}
			written = append(written, path)
		case FormatXLSX:
			path := base + ".xlsx"
			if err := WriteXLSX(path, rows); err != nil {
				return written, err
			}
			written = append(written, path)
		default:
			return written, eris.Errorf("export: unknown format %q", format)
		}
	}

	if e.opts.PopulationCSV != "" {
		paths, err := e.exportPopulation(base, rows)
		written = append(written, paths...)
		if err != nil {
			return written, err
		}
	}

	zap.L().Info("export: files written", zap.Strings("paths", written), zap.Int("rows", len(rows)))
	return written, nil
}

func (e *Exporter) exportPopulation(base string, rows []Row) ([]string, error) {
	pops, err := ReadPopulation(e.opts.PopulationCSV)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		zap.L().Warn("export: population csv not found", zap.String("path", e.opts.PopulationCSV))
	}

	merged := MergePopulation(rows, pops)
	withPop := base + "_com_populacao.csv"
	if err := writeCSV(withPop, merged); err != nil {
		return nil, err
	}

	big := FilterMinPopulation(merged, e.opts.MinPopulation)
	bigPath := base + "_maiores_" + strconv.Itoa(e.opts.MinPopulation) + ".csv"
	if err := writeCSV(bigPath, big); err != nil {
		return []string{withPop}, err
	}
	return []string{withPop, bigPath}, nil
}

// WriteCSV writes rows with a header and a UTF-8 byte order mark.
func WriteCSV(path string, rows []Row) error {
	return writeCSV(path, rows)
}

func writeCSV[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := encodeCSV(bw, rows); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	if err := bw.Flush(); err != nil {
		return eris.Wrapf(err, "export: flush %s", path)
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

func encodeCSV[T any](w io.Writer, rows []T) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	var zero T
	if err := enc.EncodeHeader(zero); err != nil {
		return err
	}
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var stemRe = regexp.MustCompile(`[^a-z0-9]+`)

// Stem builds a file-name stem from free text: "Condomínios, Jundiaí - SP"
// becomes "condominios_jundiai_sp".
func Stem(parts ...string) string {
	var words []string
	for _, p := range parts {
		s := strings.Trim(stemRe.ReplaceAllString(model.Normalize(p), "_"), "_")
		if s != "" {
			words = append(words, s)
		}
	}
	if len(words) == 0 {
		return "places"
	}
	return strings.Join(words, "_")
}
