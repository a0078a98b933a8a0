package service

import (
	"context"

	"vodhub/internal/collect"
	"vodhub/internal/models"
	"vodhub/internal/source"
)

// buildCandidate runs one raw item through classify + normalize, producing
// the shape the merger folds into the catalog. Shared by the live aggregator
// and the task engine so both writers converge on identical rows.
func buildCandidate(ctx context.Context, classifier *collect.Classifier, src models.Source, item source.RawItem) collect.Candidate {
	cl := classifier.Classify(ctx, src.ID, item.CategoryID, item.CategoryName, item.Title)
	sourceName := src.Name
	if src.DisplayName != nil && *src.DisplayName != "" {
		sourceName = *src.DisplayName
	}
	return collect.Candidate{
		Title:         item.Title,
		Year:          collect.NormalizeYear(item.Year),
		Area:          collect.NormalizeArea(item.Area),
		CategoryID:    cl.CategoryID,
		SubCategoryID: cl.SubCategoryID,
		Actors:        item.Actors,
		Director:      item.Director,
		Synopsis:      item.Synopsis,
		CoverURL:      collect.NormalizeImageURL(item.CoverURL),
		Play:          collect.NormalizePlay(item.PlayFrom, item.PlayURL),
		SourceName:    sourceName,
		SourceWeight:  src.Weight,
	}
}
