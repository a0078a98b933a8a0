package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawItem is the canonical raw shape one listing entry is resolved into,
// regardless of whether the source spoke JSON or XML. Downstream code never
// inspects raw payload bytes again.
type RawItem struct {
	ItemID       string
	Title        string
	CategoryID   int
	CategoryName string
	Year         string
	Area         string
	Lang         string
	Actors       string
	Director     string
	Synopsis     string
	CoverURL     string
	PlayFrom     string
	PlayURL      string
	Remarks      string
	UpdatedAt    string
}

// RawCategory is one entry of a source's own taxonomy as returned by its list
// endpoint.
type RawCategory struct {
	ID   int
	Name string
}

// ListPage is one parsed page of a source's list endpoint.
type ListPage struct {
	Page       int
	PageCount  int
	PageSize   int
	Total      int
	Items      []RawItem
	Categories []RawCategory
}

// ParseError marks a payload the parser could not make sense of. Callers
// treat it as a source failure, never a fatal one.
type ParseError struct {
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// flexInt tolerates the number-or-quoted-number fields common in third-party
// listing dialects ("limit":"20" vs "limit":20).
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		// Some dialects put floats here; take the integer part.
		if v, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			*f = flexInt(int(v))
			return nil
		}
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// flexString tolerates string-or-number fields ("vod_id":21 vs "vod_id":"21").
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.Trim(string(data), `"`))
	return nil
}
