// Package exomiser reads the tab-delimited variant files written by Exomiser
// and exposes them as a ranked genotype.
package exomiser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/phenotype-similarity-server/internal/domain"
)

// Column names used by the parser
const (
	ColChrom         = "CHROM"
	ColPos           = "POS"
	ColRef           = "REF"
	ColAlt           = "ALT"
	ColQual          = "QUAL"
	ColFilter        = "FILTER"
	ColGenotype      = "GENOTYPE"
	ColFunctional    = "FUNCTIONAL_CLASS"
	ColHGVS          = "HGVS"
	ColGene          = "EXOMISER_GENE"
	ColVariantScore  = "EXOMISER_VARIANT_SCORE"
	ColGeneScore     = "EXOMISER_GENE_COMBINED_SCORE"
	ColPhenoScore    = "EXOMISER_GENE_PHENO_SCORE"
	ColGeneVarScore  = "EXOMISER_GENE_VARIANT_SCORE"
	missingValueMark = "."
)

var requiredColumns = []string{ColChrom, ColPos, ColRef, ColAlt, ColGene}

// Variant is one line of an Exomiser file
type Variant struct {
	Chrom       string            `json:"chrom"`
	Position    int               `json:"position"`
	Ref         string            `json:"ref"`
	Alt         string            `json:"alt"`
	Quality     *float64          `json:"quality,omitempty"`
	Filter      string            `json:"filter,omitempty"`
	Genotype    string            `json:"genotype,omitempty"`
	Effect      string            `json:"effect,omitempty"`
	HGVS        string            `json:"hgvs,omitempty"`
	Gene        string            `json:"gene"`
	Score       *float64          `json:"score,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// IsHomozygous reports a homozygous alternate call
func (v *Variant) IsHomozygous() bool {
	g := strings.ReplaceAll(v.Genotype, "|", "/")
	return g == "1/1"
}

// Annotation returns a raw column value, absent for "." and unknown columns
func (v *Variant) Annotation(column string) (string, bool) {
	s, ok := v.Annotations[column]
	if !ok || s == missingValueMark || s == "" {
		return "", false
	}
	return s, true
}

func (v *Variant) score() float64 {
	if v.Score == nil {
		return 0
	}
	return *v.Score
}

// LineError records a data line that could not be parsed
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e LineError) Unwrap() error {
	return e.Err
}

// Genotype groups parsed variants by gene
type Genotype struct {
	geneScores map[string]float64
	variants   map[string][]*Variant
	genes      []string
	skipped    []LineError
}

var _ domain.Genotype = (*Genotype)(nil)

// ParseFile reads an Exomiser file from disk
func ParseFile(path string) (*Genotype, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening exomiser file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads an Exomiser file. The header line starts with '#'; lines
// starting with "##" are metadata and skipped. Optional numeric values that
// do not parse are treated as absent. A malformed data line is skipped and
// reported by Skipped; only a missing or incomplete header fails the file.
func Parse(r io.Reader) (*Genotype, error) {
	g := &Genotype{
		geneScores: make(map[string]float64),
		variants:   make(map[string][]*Variant),
	}

	var columns []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "##") {
			continue
		}
		if strings.HasPrefix(line, "#") {
			columns = parseHeader(line)
			if err := checkColumns(columns); err != nil {
				return nil, err
			}
			continue
		}
		if columns == nil {
			return nil, fmt.Errorf("line %d: %w: data before header", lineNo, domain.ErrMalformedRecord)
		}

		v, err := parseVariant(columns, strings.Split(line, "\t"))
		if err != nil {
			g.skipped = append(g.skipped, LineError{Line: lineNo, Err: err})
			continue
		}
		g.add(v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading exomiser file: %w", err)
	}

	g.rank()
	return g, nil
}

// parseHeader strips the leading '#' and threshold suffixes such as "CADD(>0.483)"
func parseHeader(line string) []string {
	fields := strings.Split(strings.TrimPrefix(line, "#"), "\t")
	for i, f := range fields {
		if idx := strings.IndexByte(f, '('); idx > 0 {
			f = f[:idx]
		}
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

func checkColumns(columns []string) error {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	for _, c := range requiredColumns {
		if !present[c] {
			return fmt.Errorf("exomiser header: %w: missing column %s", domain.ErrMalformedRecord, c)
		}
	}
	return nil
}

func parseVariant(columns, fields []string) (*Variant, error) {
	v := &Variant{Annotations: make(map[string]string, len(columns))}
	for i, col := range columns {
		if i < len(fields) {
			v.Annotations[col] = fields[i]
		}
	}

	pos, err := strconv.Atoi(v.Annotations[ColPos])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid position %q", domain.ErrMalformedRecord, v.Annotations[ColPos])
	}
	v.Position = pos
	v.Chrom = strings.TrimPrefix(strings.TrimPrefix(v.Annotations[ColChrom], "chr"), "CHR")
	v.Ref = v.Annotations[ColRef]
	v.Alt = v.Annotations[ColAlt]
	v.Gene = v.Annotations[ColGene]
	if v.Chrom == "" || v.Gene == "" || v.Gene == missingValueMark {
		return nil, fmt.Errorf("%w: chromosome and gene are required", domain.ErrMalformedRecord)
	}

	v.Filter, _ = v.Annotation(ColFilter)
	v.Genotype, _ = v.Annotation(ColGenotype)
	v.Effect, _ = v.Annotation(ColFunctional)
	v.HGVS, _ = v.Annotation(ColHGVS)
	v.Quality = optionalFloat(v.Annotations[ColQual])
	v.Score = optionalFloat(v.Annotations[ColVariantScore])
	return v, nil
}

func optionalFloat(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

func (g *Genotype) add(v *Variant) {
	g.variants[v.Gene] = append(g.variants[v.Gene], v)
	if s := optionalFloat(v.Annotations[ColGeneScore]); s != nil {
		if cur, ok := g.geneScores[v.Gene]; !ok || *s > cur {
			g.geneScores[v.Gene] = *s
		}
	}
}

func (g *Genotype) rank() {
	g.genes = make([]string, 0, len(g.variants))
	for gene, vs := range g.variants {
		g.genes = append(g.genes, gene)
		sort.SliceStable(vs, func(i, j int) bool { return vs[i].score() > vs[j].score() })
	}
	sort.Slice(g.genes, func(i, j int) bool {
		si, sj := g.geneScores[g.genes[i]], g.geneScores[g.genes[j]]
		if si != sj {
			return si > sj
		}
		return g.genes[i] < g.genes[j]
	})
}

// Genes returns every gene with at least one variant, best gene score first
func (g *Genotype) Genes() []string {
	return append([]string(nil), g.genes...)
}

// GeneScore returns the combined Exomiser score of a gene
func (g *Genotype) GeneScore(gene string) (float64, bool) {
	s, ok := g.geneScores[gene]
	return s, ok
}

// Skipped returns the data lines that were left out as malformed
func (g *Genotype) Skipped() []LineError {
	return append([]LineError(nil), g.skipped...)
}

// TopVariant returns the variant of gene at the given rank, best variant
// score first. The boolean is false past the last variant.
func (g *Genotype) TopVariant(gene string, rank int) (*Variant, bool) {
	vs := g.variants[gene]
	if rank < 0 || rank >= len(vs) {
		return nil, false
	}
	return vs[rank], true
}
