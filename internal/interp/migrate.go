// Package interp reshapes the denormalized interpretation extracts of the
// 2.0 schema generation into the normalized mdruleclass, mdrule, mdinterp
// and cointerp tables.
package interp

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ncss-tech/RSS-Export/internal/extract"
)

// NCCPIRuleKey is the national commodity crop productivity index rule.
// Several downstream attributes are based on it, so it is always retained,
// light mode or not.
const NCCPIRuleKey = "54955"

// Fixed field positions inside the raw cointerp extract.
const (
	FieldCokey       = 0
	FieldInterpKey   = 1 // main rule key
	FieldInterpName  = 2
	FieldSeq         = 3
	FieldRuleKey     = 4
	FieldRuleName    = 5
	FieldRuleDepth   = 6
	FieldRating      = 11
	FieldClassText   = 12
	FieldNullProp    = 15
	FieldIncProp     = 17
	FieldCointerpKey = 18
)

// cointerpWidth is the minimum raw field count a cointerp record must have.
const cointerpWidth = FieldCointerpKey + 1

// sainterpWidth is the minimum raw field count a sainterp record must have:
// area symbol, six interpretation attributes, and the two trailing keys.
const sainterpWidth = 9

var (
	cointerpColumns = []string{
		"interphr", "classkey", "nullpropdatabool", "defpropdatabool",
		"incpropdatabool", "rulekey", "cokey", "cointerpkey",
	}
	sainterpColumns = []string{"interpkey", "sacatalogkey", "sainterpkey"}
	ruleColumns     = []string{"rulename", "ruledepth", "seqnum", "interpkey", "rulekey"}
	interpColumns   = []string{
		"interpname", "interptype", "interpdesc", "interpdesigndate",
		"interpgendate", "interpmaxreasons", "interpkey",
	}
	classColumns = []string{"classtxt", "classkey"}
)

// Inserter is the slice of the target store the migration needs.
type Inserter interface {
	Insert(ctx context.Context, table string, cols []string, rows [][]any) error
}

func openAreaExtract(root, area, base string) (*extract.Reader, error) {
	return extract.Open("interp", filepath.Join(root, strings.ToUpper(area), "tabular", base+".txt"))
}

type ruleID struct {
	interpKey string
	ruleKey   string
}

type ruleAttrs struct {
	name  sql.NullString
	depth sql.NullString
	seq   sql.NullString
}

// Migrator owns the run-scoped migration state: the classification map, the
// rule map and the interpretation name map. One instance per run; state is
// discarded with the instance. Row processing is single-writer: map mutation
// is never concurrent.
type Migrator struct {
	classes    map[string]int
	classOrder []string
	seeded     int
	nextKey    int

	rules     map[ruleID]ruleAttrs
	ruleOrder []ruleID

	// interpretation display name -> interpretation key, collected from
	// top-level rows because the sainterp extract lacks a key column
	names map[string]string

	interps     map[string][]sql.NullString
	interpOrder []string

	log zerolog.Logger
}

func NewMigrator(log zerolog.Logger) *Migrator {
	return &Migrator{
		classes: map[string]int{},
		rules:   map[ruleID]ruleAttrs{},
		names:   map[string]string{},
		interps: map[string][]sql.NullString{},
		log:     log.With().Str("component", "interp").Logger(),
	}
}

// SeedClasses loads the versioned rule class seed list (classtxt,classkey)
// and sets the high-water surrogate key.
func (m *Migrator) SeedClasses(rows [][]string) error {
	for _, row := range rows {
		if len(row) < 2 {
			return errors.Errorf("interp: malformed class seed row %q", row)
		}
		key, err := strconv.Atoi(row[1])
		if err != nil {
			return errors.Wrapf(err, "interp: class seed key for %q", row[0])
		}
		if _, dup := m.classes[row[0]]; !dup {
			m.classes[row[0]] = key
			m.classOrder = append(m.classOrder, row[0])
		}
		if key > m.nextKey {
			m.nextKey = key
		}
	}
	m.seeded = len(m.classOrder)
	return nil
}

// ClassKey resolves a classification text to its surrogate key, assigning
// the next unused key on first sight. Keys are append-only within a run:
// never reused, never recompacted. New interpretations can ship classes the
// seed list has never seen.
func (m *Migrator) ClassKey(text string) int {
	if k, ok := m.classes[text]; ok {
		return k
	}
	m.nextKey++
	m.classes[text] = m.nextKey
	m.classOrder = append(m.classOrder, text)
	m.log.Info().Str("class", text).Int("key", m.nextKey).Msg("new rule class found")
	return m.nextKey
}

// InterpKey returns the interpretation key recorded for a display name.
func (m *Migrator) InterpKey(name string) (string, bool) {
	k, ok := m.names[name]
	return k, ok
}

// HasRule reports whether the (interpretation, rule) pair has been sighted.
func (m *Migrator) HasRule(interpKey, ruleKey string) bool {
	_, ok := m.rules[ruleID{interpKey, ruleKey}]
	return ok
}

// MigrateCointerp reshapes the raw cointerp extract of every survey area
// into the migrated cointerp table.
//
// Key equality is the sole discriminator: a row whose interpretation key
// equals its rule key is the interpretation's own top-level rule, anything
// else is a subordinate rule. Top-level rows are always inserted and their
// display name recorded for the later sainterp pass. Subordinate rows are
// inserted only in full mode, except the NCCPI rule which survives light
// mode. Any failure aborts the whole migration: a partial run would leave
// the classification keys inconsistent.
func (m *Migrator) MigrateCointerp(ctx context.Context, ins Inserter, root string, areas []string, light bool) (int, error) {
	total := 0
	for _, area := range areas {
		n, err := m.migrateArea(ctx, ins, root, area, light)
		total += n
		if err != nil {
			return total, err
		}
	}
	m.log.Info().Int("rows", total).Msg("populated cointerp")
	return total, nil
}

func (m *Migrator) migrateArea(ctx context.Context, ins Inserter, root, area string, light bool) (int, error) {
	r, err := openAreaExtract(root, area, "cinterp")
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	var batch [][]any
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, errors.Wrapf(err, "interp: while working with %s and cointerp", r.Path())
		}
		if len(row) < cointerpWidth {
			return n, errors.Errorf("interp: %s line %d has %d fields, want at least %d",
				r.Path(), r.Line(), len(row), cointerpWidth)
		}

		interpKey := row[FieldInterpKey].String
		ruleKey := row[FieldRuleKey].String
		topLevel := interpKey == ruleKey

		// classification values are observed on every row, even ones light
		// mode excludes, so the class table grows to match reality
		if row[FieldClassText].Valid {
			m.ClassKey(row[FieldClassText].String)
		}

		if !topLevel {
			// one Rule per distinct pair across all areas; first sight wins
			id := ruleID{interpKey, ruleKey}
			if _, seen := m.rules[id]; !seen {
				m.rules[id] = ruleAttrs{
					name:  row[FieldRuleName],
					depth: row[FieldRuleDepth],
					seq:   row[FieldSeq],
				}
				m.ruleOrder = append(m.ruleOrder, id)
			}
			if light && ruleKey != NCCPIRuleKey {
				continue
			}
		} else if name := row[FieldInterpName].String; name != "" {
			if _, seen := m.names[name]; !seen {
				m.names[name] = interpKey
			}
		}

		batch = append(batch, m.cointerpRow(row))
		if len(batch) == 500 {
			if err := ins.Insert(ctx, "cointerp", cointerpColumns, batch); err != nil {
				return n, errors.Wrapf(err, "interp: while working with %s and cointerp", r.Path())
			}
			n += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := ins.Insert(ctx, "cointerp", cointerpColumns, batch); err != nil {
			return n, errors.Wrapf(err, "interp: while working with %s and cointerp", r.Path())
		}
		n += len(batch)
	}
	return n, nil
}

// cointerpRow flattens one raw record into the migrated shape, resolving the
// classification text to its surrogate key.
func (m *Migrator) cointerpRow(row []sql.NullString) []any {
	var classKey any
	if row[FieldClassText].Valid {
		classKey = m.ClassKey(row[FieldClassText].String)
	}
	vals := make([]any, 0, len(cointerpColumns))
	vals = append(vals, row[FieldRating], classKey)
	// some zeros come with a trailing space
	for i := FieldNullProp; i <= FieldIncProp; i++ {
		vals = append(vals, trimmed(row[i]))
	}
	return append(vals, row[FieldRuleKey], row[FieldCokey], row[FieldCointerpKey])
}

func trimmed(v sql.NullString) sql.NullString {
	if !v.Valid {
		return v
	}
	return sql.NullString{String: strings.TrimSpace(v.String), Valid: true}
}

// MigrateSainterp loads the companion simplified attribute interpretation
// extract. It lacks a key column, so the interpretation key is resolved
// through the name map built while migrating cointerp; one set of
// interpretation attributes is kept per distinct key, first sight wins.
func (m *Migrator) MigrateSainterp(ctx context.Context, ins Inserter, root string, areas []string) (int, error) {
	total := 0
	for _, area := range areas {
		r, err := openAreaExtract(root, area, "sainterp")
		if err != nil {
			return total, err
		}
		var batch [][]any
		for {
			row, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				r.Close()
				return total, errors.Wrapf(err, "interp: while working with %s and sainterp", r.Path())
			}
			if len(row) < sainterpWidth {
				r.Close()
				return total, errors.Errorf("interp: %s line %d has %d fields, want at least %d",
					r.Path(), r.Line(), len(row), sainterpWidth)
			}
			var interpKey sql.NullString
			if k, ok := m.names[row[1].String]; ok {
				interpKey = sql.NullString{String: k, Valid: true}
			}
			if interpKey.Valid {
				if _, seen := m.interps[interpKey.String]; !seen {
					attrs := make([]sql.NullString, 6)
					copy(attrs, row[1:7])
					m.interps[interpKey.String] = attrs
					m.interpOrder = append(m.interpOrder, interpKey.String)
				}
			}
			batch = append(batch, []any{interpKey, row[len(row)-2], row[len(row)-1]})
		}
		r.Close()
		if err := ins.Insert(ctx, "sainterp", sainterpColumns, batch); err != nil {
			return total, errors.Wrapf(err, "interp: while working with %s and sainterp", r.Path())
		}
		total += len(batch)
	}
	m.log.Info().Int("rows", total).Msg("populated sainterp")
	return total, nil
}

// Flush persists the accumulated migration state: the full classification
// map, the rule map as mdrule, and the interpretation attributes as
// mdinterp. Called once, after every area has been processed.
func (m *Migrator) Flush(ctx context.Context, ins Inserter) error {
	classRows := make([][]any, 0, len(m.classOrder))
	for _, txt := range m.classOrder {
		classRows = append(classRows, []any{txt, m.classes[txt]})
	}
	if err := ins.Insert(ctx, "mdruleclass", classColumns, classRows); err != nil {
		return errors.Wrap(err, "interp: mdruleclass")
	}
	if grown := len(m.classOrder) - m.seeded; grown > 0 {
		m.log.Info().Int("new", grown).Msg("classification map extended at load time")
	}
	m.log.Info().Int("rows", len(classRows)).Msg("populated mdruleclass")

	ruleRows := make([][]any, 0, len(m.ruleOrder))
	for _, id := range m.ruleOrder {
		a := m.rules[id]
		ruleRows = append(ruleRows, []any{a.name, a.depth, a.seq, id.interpKey, id.ruleKey})
	}
	if err := ins.Insert(ctx, "mdrule", ruleColumns, ruleRows); err != nil {
		return errors.Wrap(err, "interp: mdrule")
	}
	m.log.Info().Int("rows", len(ruleRows)).Msg("populated mdrule")

	interpRows := make([][]any, 0, len(m.interpOrder))
	for _, k := range m.interpOrder {
		attrs := m.interps[k]
		vals := make([]any, 0, len(interpColumns))
		for _, a := range attrs {
			vals = append(vals, a)
		}
		interpRows = append(interpRows, append(vals, k))
	}
	if err := ins.Insert(ctx, "mdinterp", interpColumns, interpRows); err != nil {
		return errors.Wrap(err, "interp: mdinterp")
	}
	m.log.Info().Int("rows", len(interpRows)).Msg("populated mdinterp")
	return nil
}
