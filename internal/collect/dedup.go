package collect

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"vodhub/internal/models"
)

// MergeResult tells the task engine how to count an upsert without
// re-diffing rows.
type MergeResult string

const (
	MergeNew     MergeResult = "new"
	MergeUpdated MergeResult = "updated"
	MergeSkipped MergeResult = "skipped"
)

// Candidate is one normalized, classified raw item ready to fold into the
// catalog.
type Candidate struct {
	Title         string
	Year          int
	Area          string
	CategoryID    int
	SubCategoryID *int
	Actors        string
	Director      string
	Synopsis      string
	CoverURL      string
	Play          []PlaySource
	SourceName    string
	SourceWeight  decimal.Decimal
}

// NormalizeTitle lowercases and strips all whitespace (including full-width
// spaces) so language/source spelling variants of one title collide.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GroupKey is the dedup key: normalized title + year. Arrival order never
// matters because this key, not ordering, decides identity.
func GroupKey(title string, year int) string {
	return NormalizeTitle(title) + "|" + strconv.Itoa(year)
}

// DeriveID produces the deterministic catalog primary key so repeated
// collection runs converge onto the same row.
func DeriveID(title string, year int, area string) string {
	sum := sha1.Sum([]byte(GroupKey(title, year) + "|" + strings.TrimSpace(area)))
	return hex.EncodeToString(sum[:])[:32]
}

// QualityScorer decides which source wins metadata during merge. The legacy
// formula is unspecified, so it is pluggable; the default favors heavier
// sources with more complete episode lists.
type QualityScorer func(weight decimal.Decimal, episodes int) decimal.Decimal

func DefaultQualityScore(weight decimal.Decimal, episodes int) decimal.Decimal {
	if episodes > 100 {
		episodes = 100
	}
	completeness := decimal.NewFromFloat(1 + float64(episodes)/10.0)
	return weight.Mul(completeness).Round(4)
}

// Merger folds candidates into catalog rows under the one-row-per-
// (normalizedTitle, year) invariant.
type Merger struct {
	Score QualityScorer
}

func (m *Merger) scorer() QualityScorer {
	if m != nil && m.Score != nil {
		return m.Score
	}
	return DefaultQualityScore
}

// Merge applies the merge policy. A nil existing row creates the baseline
// entry. Otherwise the candidate's play group replaces any prior group from
// the same source; metadata fields only move when the candidate's source
// weight strictly exceeds the weight that supplied the current metadata.
// Merge is idempotent: folding the same candidate twice yields the same row
// and reports MergeSkipped the second time.
func (m *Merger) Merge(existing *models.CatalogItem, in Candidate) (models.CatalogItem, MergeResult, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.CatalogItem{}, MergeSkipped, fmt.Errorf("candidate has empty title")
	}

	if existing == nil {
		item := models.CatalogItem{
			ID:            DeriveID(in.Title, in.Year, in.Area),
			Title:         strings.TrimSpace(in.Title),
			TitleNorm:     NormalizeTitle(in.Title),
			Year:          in.Year,
			Area:          in.Area,
			CategoryID:    in.CategoryID,
			SubCategoryID: in.SubCategoryID,
			Actors:        in.Actors,
			Director:      in.Director,
			Synopsis:      in.Synopsis,
			CoverURL:      in.CoverURL,
			SourceName:    in.SourceName,
			SourceWeight:  in.SourceWeight,
			IsValid:       true,
		}
		if err := setPlaySources(&item, replaceGroups(nil, in)); err != nil {
			return models.CatalogItem{}, MergeSkipped, err
		}
		item.QualityScore = m.scorer()(in.SourceWeight, countEpisodes(groupsOf(item)))
		return item, MergeNew, nil
	}

	merged := *existing
	groups, err := decodePlaySources(existing.PlaySources)
	if err != nil {
		// A corrupt stored blob should not wedge collection; rebuild it.
		groups = nil
	}
	newGroups := replaceGroups(groups, in)

	changed := !playSourcesEqual(groups, newGroups)
	if err := setPlaySources(&merged, newGroups); err != nil {
		return models.CatalogItem{}, MergeSkipped, err
	}

	if in.SourceWeight.GreaterThan(existing.SourceWeight) {
		changed = changed ||
			differs(merged.Synopsis, in.Synopsis) ||
			differs(merged.Actors, in.Actors) ||
			differs(merged.Director, in.Director) ||
			differs(merged.CoverURL, in.CoverURL)
		overwriteMeta(&merged, in)
	}
	if merged.CategoryID == models.CategoryUnclassified && in.CategoryID != models.CategoryUnclassified {
		merged.CategoryID = in.CategoryID
		merged.SubCategoryID = in.SubCategoryID
		changed = true
	}

	score := m.scorer()(merged.SourceWeight, countEpisodes(newGroups))
	if !score.Equal(merged.QualityScore) {
		merged.QualityScore = score
		changed = true
	}
	if !merged.IsValid && countEpisodes(newGroups) > 0 {
		merged.IsValid = true
		changed = true
	}

	if !changed {
		return merged, MergeSkipped, nil
	}
	return merged, MergeUpdated, nil
}

func overwriteMeta(item *models.CatalogItem, in Candidate) {
	if strings.TrimSpace(in.Synopsis) != "" {
		item.Synopsis = in.Synopsis
	}
	if strings.TrimSpace(in.Actors) != "" {
		item.Actors = in.Actors
	}
	if strings.TrimSpace(in.Director) != "" {
		item.Director = in.Director
	}
	if strings.TrimSpace(in.CoverURL) != "" {
		item.CoverURL = in.CoverURL
	}
	item.SourceName = in.SourceName
	item.SourceWeight = in.SourceWeight
}

func differs(current, incoming string) bool {
	return strings.TrimSpace(incoming) != "" && current != incoming
}

// replaceGroups folds the candidate's play groups in, keyed by collecting
// source: every prior group from the same origin is dropped and the fresh
// groups appended, so re-collecting a source overwrites its own entry and
// never duplicates it. Groups that already carry an Origin (a canonical
// structure being re-merged) keep it.
func replaceGroups(groups []PlaySource, in Candidate) []PlaySource {
	if len(in.Play) == 0 {
		return groups
	}
	incoming := make([]PlaySource, 0, len(in.Play))
	origins := map[string]bool{}
	for _, g := range in.Play {
		if g.Origin == "" {
			g.Origin = in.SourceName
		}
		origins[g.Origin] = true
		incoming = append(incoming, g)
	}
	out := make([]PlaySource, 0, len(groups)+len(incoming))
	for _, g := range groups {
		if !origins[g.Origin] {
			out = append(out, g)
		}
	}
	return append(out, incoming...)
}

func decodePlaySources(raw datatypes.JSON) ([]PlaySource, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var groups []PlaySource
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func setPlaySources(item *models.CatalogItem, groups []PlaySource) error {
	raw, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	item.PlaySources = datatypes.JSON(raw)
	return nil
}

func groupsOf(item models.CatalogItem) []PlaySource {
	groups, _ := decodePlaySources(item.PlaySources)
	return groups
}

// PlaySourcesOf decodes a catalog row's stored play groups. A corrupt blob
// yields nil rather than an error; callers treat it as empty.
func PlaySourcesOf(item models.CatalogItem) []PlaySource {
	return groupsOf(item)
}

// SetPlaySources re-encodes play groups onto a catalog row.
func SetPlaySources(item *models.CatalogItem, groups []PlaySource) error {
	return setPlaySources(item, groups)
}

// CountEpisodes totals episodes across play groups.
func CountEpisodes(groups []PlaySource) int {
	return countEpisodes(groups)
}

func playSourcesEqual(a, b []PlaySource) bool {
	ra, _ := json.Marshal(a)
	rb, _ := json.Marshal(b)
	return string(ra) == string(rb)
}

func countEpisodes(groups []PlaySource) int {
	n := 0
	for _, g := range groups {
		n += len(g.Episodes)
	}
	return n
}
