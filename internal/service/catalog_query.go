package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"vodhub/internal/collect"
	"vodhub/internal/models"
	"vodhub/internal/repository"
)

// ErrCatalogItemNotFound marks lookups for an id that is absent or already
// invalidated.
var ErrCatalogItemNotFound = errors.New("catalog item not found")

// CatalogQuery serves the collected library: browsing, detail lookups and
// the operator-facing play-source removal.
type CatalogQuery struct {
	Repo   repository.Repository
	Logger *zap.Logger

	DefaultPageSize int
	MaxPageSize     int
}

func (s *CatalogQuery) pageSize(requested int) int {
	def := s.DefaultPageSize
	if def <= 0 {
		def = 20
	}
	max := s.MaxPageSize
	if max <= 0 {
		max = 100
	}
	if requested <= 0 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}

// CatalogListQuery is the browse filter set. Zero values mean "no filter".
type CatalogListQuery struct {
	CategoryID    int
	SubCategoryID int
	Area          string
	Year          int
	Keyword       string
	OrderBy       string
	Asc           bool
	Page          int
	PageSize      int
}

// CatalogListResult is one browse page plus the total for pagination.
type CatalogListResult struct {
	Items    []models.CatalogItem `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// List returns one page of valid catalog rows matching the filters.
func (s *CatalogQuery) List(ctx context.Context, q CatalogListQuery) (CatalogListResult, error) {
	page := q.Page
	if page <= 0 {
		page = 1
	}
	size := s.pageSize(q.PageSize)

	params := repository.ListCatalogParams{
		Area:      strings.TrimSpace(q.Area),
		Keyword:   strings.TrimSpace(q.Keyword),
		ValidOnly: true,
		OrderBy:   q.OrderBy,
		Limit:     size,
		Offset:    (page - 1) * size,
	}
	if q.CategoryID > 0 {
		cid := q.CategoryID
		params.CategoryID = &cid
	}
	if q.SubCategoryID > 0 {
		sid := q.SubCategoryID
		params.SubCategoryID = &sid
	}
	if q.Year > 0 {
		y := q.Year
		params.Year = &y
	}
	if q.Asc {
		asc := true
		params.Asc = &asc
	}

	items, err := s.Repo.ListCatalogItems(ctx, params)
	if err != nil {
		return CatalogListResult{}, fmt.Errorf("list catalog: %w", err)
	}
	total, err := s.Repo.CountCatalogItems(ctx, params)
	if err != nil {
		return CatalogListResult{}, fmt.Errorf("count catalog: %w", err)
	}
	return CatalogListResult{Items: items, Total: total, Page: page, PageSize: size}, nil
}

// CatalogDetail is one catalog row with its play groups decoded.
type CatalogDetail struct {
	models.CatalogItem
	Play []collect.PlaySource `json:"play"`
}

// Detail returns one valid catalog row by id.
func (s *CatalogQuery) Detail(ctx context.Context, id string) (CatalogDetail, error) {
	item, err := s.Repo.GetCatalogItem(ctx, id)
	if err != nil {
		return CatalogDetail{}, err
	}
	if item == nil || !item.IsValid {
		return CatalogDetail{}, ErrCatalogItemNotFound
	}
	return CatalogDetail{CatalogItem: *item, Play: collect.PlaySourcesOf(*item)}, nil
}

// RemovePlaySource drops one play group (matched by origin, or by advertised
// line name when origin does not match) from an item. When the last group
// goes, the item is invalidated rather than deleted so its identity survives
// a later re-collection.
func (s *CatalogQuery) RemovePlaySource(ctx context.Context, id, groupName string) (*models.CatalogItem, error) {
	groupName = strings.TrimSpace(groupName)
	if groupName == "" {
		return nil, errors.New("play source name required")
	}
	item, err := s.Repo.GetCatalogItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrCatalogItemNotFound
	}

	groups := collect.PlaySourcesOf(*item)
	kept := make([]collect.PlaySource, 0, len(groups))
	removed := false
	for _, g := range groups {
		if g.Origin == groupName || g.Source == groupName {
			removed = true
			continue
		}
		kept = append(kept, g)
	}
	if !removed {
		return nil, fmt.Errorf("item %s has no play source %q", id, groupName)
	}

	if err := collect.SetPlaySources(item, kept); err != nil {
		return nil, err
	}
	if err := s.Repo.UpsertCatalogItem(ctx, item); err != nil {
		return nil, fmt.Errorf("save item %s: %w", id, err)
	}
	if len(kept) == 0 {
		if err := s.Repo.InvalidateCatalogItem(ctx, item.ID); err != nil {
			return nil, fmt.Errorf("invalidate item %s: %w", id, err)
		}
		item.IsValid = false
	}
	if s.Logger != nil {
		s.Logger.Info("play source removed",
			zap.String("item", id),
			zap.String("group", groupName),
			zap.Int("remaining", len(kept)),
			zap.Bool("valid", item.IsValid),
		)
	}
	return item, nil
}
