package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/suphelp/geo-cli/internal/model"
)

// Population is one entry of a population table.
type Population struct {
	Name       string `csv:"name"`
	Population string `csv:"population"`
}

// PopulatedRow is an export row with its matched population, empty when no
// entry matched.
type PopulatedRow struct {
	Row
	Population string `csv:"population"`
}

// headerAliases maps accepted population-table headers to canonical names.
var headerAliases = map[string]string{
	"nome":               "name",
	"name":               "name",
	"populacao_estimada": "population",
	"populacao":          "population",
	"population":         "population",
}

// ReadPopulation reads a population CSV with nome/name and
// populacao_estimada/population columns. Missing files return an error
// satisfying errors.Is(err, os.ErrNotExist).
func ReadPopulation(path string) ([]Population, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "population: open %s", path)
	}
	defer f.Close()
	return decodePopulation(f)
}

func decodePopulation(r io.Reader) ([]Population, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	raw, err := cr.Read()
	if err == io.EOF {
		return nil, eris.New("population: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "population: read header")
	}

	header := make([]string, len(raw))
	seen := map[string]bool{}
	for i, h := range raw {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, utf8BOM)))
		if canon, ok := headerAliases[key]; ok {
			if seen[canon] {
				key = "_" + key
			} else {
				key = canon
				seen[canon] = true
			}
		}
		header[i] = key
	}
	for _, col := range []string{"name", "population"} {
		if !seen[col] {
			return nil, eris.Errorf("population: missing %s column", col)
		}
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "population: decoder")
	}

	var out []Population
	for {
		var p Population
		if err := dec.Decode(&p); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrap(err, "population: decode row")
		}
		p.Name = strings.TrimSpace(p.Name)
		p.Population = strings.TrimSpace(p.Population)
		out = append(out, p)
	}
	return out, nil
}

// MergePopulation attaches a population to each row, matching by exact name
// first and normalized name second. The first table entry wins on duplicates.
func MergePopulation(rows []Row, pops []Population) []PopulatedRow {
	exact := make(map[string]string, len(pops))
	normalized := make(map[string]string, len(pops))
	for _, p := range pops {
		if _, ok := exact[p.Name]; !ok {
			exact[p.Name] = p.Population
		}
		n := model.Normalize(p.Name)
		if _, ok := normalized[n]; !ok {
			normalized[n] = p.Population
		}
	}

	out := make([]PopulatedRow, 0, len(rows))
	for _, r := range rows {
		pop, ok := exact[r.Name]
		if !ok || pop == "" {
			pop = normalized[model.Normalize(r.Name)]
		}
		out = append(out, PopulatedRow{Row: r, Population: pop})
	}
	return out
}

// FilterMinPopulation keeps rows whose population parses and is at least
// minPop.
func FilterMinPopulation(rows []PopulatedRow, minPop int) []PopulatedRow {
	out := []PopulatedRow{}
	for _, r := range rows {
		v, err := strconv.ParseFloat(r.Population, 64)
		if err != nil {
			continue
		}
		if v >= float64(minPop) {
			out = append(out, r)
		}
	}
	return out
}
