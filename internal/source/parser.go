package source

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"vodhub/internal/models"
)

// Parse converts a raw list payload into a ListPage. declared is the source's
// ResponseFormat; for "auto" a JSON parse is attempted first with a tolerant
// XML extraction as fallback. The detected format is returned so the caller
// can persist it back to the Source row. On failure the item list is empty
// and the error is a *ParseError; Parse never panics past this boundary.
func Parse(body []byte, declared string) (*ListPage, string, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	switch declared {
	case models.FormatJSON:
		page, err := parseJSON(body)
		return page, models.FormatJSON, err
	case models.FormatXML:
		page, err := parseXML(body)
		return page, models.FormatXML, err
	default:
		if page, err := parseJSON(body); err == nil {
			return page, models.FormatJSON, nil
		}
		page, err := parseXML(body)
		if err != nil {
			return &ListPage{}, models.FormatAuto, &ParseError{
				Format: models.FormatAuto,
				Err:    errors.New("payload is neither valid JSON nor recognizable XML"),
			}
		}
		return page, models.FormatXML, nil
	}
}

// jsonEnvelope follows the common third-party listing dialect: a code/msg
// wrapper with paging fields that may be quoted, a "list" of items and an
// optional "class" taxonomy.
type jsonEnvelope struct {
	Code      flexInt        `json:"code"`
	Msg       string         `json:"msg"`
	Page      flexInt        `json:"page"`
	PageCount flexInt        `json:"pagecount"`
	Limit     flexInt        `json:"limit"`
	Total     flexInt        `json:"total"`
	List      []jsonItem     `json:"list"`
	Class     []jsonCategory `json:"class"`
}

type jsonItem struct {
	VodID       flexString `json:"vod_id"`
	VodName     string     `json:"vod_name"`
	TypeID      flexInt    `json:"type_id"`
	TypeName    string     `json:"type_name"`
	VodYear     flexString `json:"vod_year"`
	VodArea     string     `json:"vod_area"`
	VodLang     string     `json:"vod_lang"`
	VodActor    string     `json:"vod_actor"`
	VodDirector string     `json:"vod_director"`
	VodContent  string     `json:"vod_content"`
	VodBlurb    string     `json:"vod_blurb"`
	VodPic      string     `json:"vod_pic"`
	VodPlayFrom string     `json:"vod_play_from"`
	VodPlayURL  string     `json:"vod_play_url"`
	VodRemarks  string     `json:"vod_remarks"`
	VodTime     string     `json:"vod_time"`
}

type jsonCategory struct {
	TypeID   flexInt `json:"type_id"`
	TypeName string  `json:"type_name"`
}

func parseJSON(body []byte) (*ListPage, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return &ListPage{}, &ParseError{Format: models.FormatJSON, Err: errors.New("not a JSON document")}
	}

	var env jsonEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return &ListPage{}, &ParseError{Format: models.FormatJSON, Err: err}
	}
	// A present-but-empty "list" is a legitimate zero-hit result, not a parse
	// failure. Only a document carrying neither "list" nor "class" is rejected,
	// which keeps auto-detection falling through on non-dialect JSON.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &keys); err != nil {
		return &ListPage{}, &ParseError{Format: models.FormatJSON, Err: err}
	}
	if _, hasList := keys["list"]; !hasList {
		if _, hasClass := keys["class"]; !hasClass {
			return &ListPage{}, &ParseError{Format: models.FormatJSON, Err: errors.New("no list payload")}
		}
	}

	page := &ListPage{
		Page:      int(env.Page),
		PageCount: int(env.PageCount),
		PageSize:  int(env.Limit),
		Total:     int(env.Total),
	}
	for _, it := range env.List {
		synopsis := it.VodContent
		if strings.TrimSpace(synopsis) == "" {
			synopsis = it.VodBlurb
		}
		page.Items = append(page.Items, RawItem{
			ItemID:       string(it.VodID),
			Title:        strings.TrimSpace(it.VodName),
			CategoryID:   int(it.TypeID),
			CategoryName: strings.TrimSpace(it.TypeName),
			Year:         string(it.VodYear),
			Area:         strings.TrimSpace(it.VodArea),
			Lang:         strings.TrimSpace(it.VodLang),
			Actors:       strings.TrimSpace(it.VodActor),
			Director:     strings.TrimSpace(it.VodDirector),
			Synopsis:     strings.TrimSpace(synopsis),
			CoverURL:     strings.TrimSpace(it.VodPic),
			PlayFrom:     it.VodPlayFrom,
			PlayURL:      it.VodPlayURL,
			Remarks:      strings.TrimSpace(it.VodRemarks),
			UpdatedAt:    strings.TrimSpace(it.VodTime),
		})
	}
	for _, c := range env.Class {
		page.Categories = append(page.Categories, RawCategory{ID: int(c.TypeID), Name: strings.TrimSpace(c.TypeName)})
	}
	return page, nil
}

// xmlEnvelope covers the tag-delimited dialect: <rss><list page=".."
// pagecount=".."><video>..</video></list><class><ty id="..">..</ty></class>.
// Text fields are usually CDATA-wrapped.
type xmlEnvelope struct {
	XMLName xml.Name `xml:"rss"`
	List    struct {
		Page        string     `xml:"page,attr"`
		PageCount   string     `xml:"pagecount,attr"`
		PageSize    string     `xml:"pagesize,attr"`
		RecordCount string     `xml:"recordcount,attr"`
		Videos      []xmlVideo `xml:"video"`
	} `xml:"list"`
	Class struct {
		Types []struct {
			ID   string `xml:"id,attr"`
			Name string `xml:",cdata"`
		} `xml:"ty"`
	} `xml:"class"`
}

type xmlVideo struct {
	ID       string `xml:"id"`
	TID      string `xml:"tid"`
	Name     string `xml:"name"`
	Type     string `xml:"type"`
	Pic      string `xml:"pic"`
	Lang     string `xml:"lang"`
	Area     string `xml:"area"`
	Year     string `xml:"year"`
	Note     string `xml:"note"`
	Actor    string `xml:"actor"`
	Director string `xml:"director"`
	Des      string `xml:"des"`
	Last     string `xml:"last"`
	DL       struct {
		DD []struct {
			Flag string `xml:"flag,attr"`
			URL  string `xml:",cdata"`
		} `xml:"dd"`
	} `xml:"dl"`
}

func parseXML(body []byte) (*ListPage, error) {
	var env xmlEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return parseXMLLoose(body)
	}
	if len(env.List.Videos) == 0 && len(env.Class.Types) == 0 {
		// The regex fallback may still recover items from almost-XML that
		// decoded to an empty envelope; if it finds nothing either, the strict
		// result stands as a legitimate empty page.
		if loose, looseErr := parseXMLLoose(body); looseErr == nil {
			return loose, nil
		}
	}

	page := &ListPage{
		Page:      atoiSafe(env.List.Page),
		PageCount: atoiSafe(env.List.PageCount),
		PageSize:  atoiSafe(env.List.PageSize),
		Total:     atoiSafe(env.List.RecordCount),
	}
	for _, v := range env.List.Videos {
		froms := make([]string, 0, len(v.DL.DD))
		urls := make([]string, 0, len(v.DL.DD))
		for _, dd := range v.DL.DD {
			froms = append(froms, strings.TrimSpace(dd.Flag))
			urls = append(urls, strings.TrimSpace(dd.URL))
		}
		page.Items = append(page.Items, RawItem{
			ItemID:       strings.TrimSpace(v.ID),
			Title:        strings.TrimSpace(v.Name),
			CategoryID:   atoiSafe(v.TID),
			CategoryName: strings.TrimSpace(v.Type),
			Year:         strings.TrimSpace(v.Year),
			Area:         strings.TrimSpace(v.Area),
			Lang:         strings.TrimSpace(v.Lang),
			Actors:       strings.TrimSpace(v.Actor),
			Director:     strings.TrimSpace(v.Director),
			Synopsis:     strings.TrimSpace(v.Des),
			CoverURL:     strings.TrimSpace(v.Pic),
			PlayFrom:     strings.Join(froms, "$$$"),
			PlayURL:      strings.Join(urls, "$$$"),
			Remarks:      strings.TrimSpace(v.Note),
			UpdatedAt:    strings.TrimSpace(v.Last),
		})
	}
	for _, t := range env.Class.Types {
		page.Categories = append(page.Categories, RawCategory{ID: atoiSafe(t.ID), Name: strings.TrimSpace(t.Name)})
	}
	return page, nil
}

var (
	reVideoBlock = regexp.MustCompile(`(?s)<video>(.*?)</video>`)
	reListAttrs  = regexp.MustCompile(`<list\s+page="?(\d+)"?\s+pagecount="?(\d+)"?`)
	reClassTy    = regexp.MustCompile(`<ty id="?(\d+)"?>(?:<!\[CDATA\[)?(.*?)(?:\]\]>)?</ty>`)
)

// parseXMLLoose is the regex fallback for feeds that are almost-XML: unescaped
// ampersands, stray control bytes, mismatched tags. It only needs to recover
// the fields the pipeline uses.
func parseXMLLoose(body []byte) (*ListPage, error) {
	text := string(body)
	blocks := reVideoBlock.FindAllStringSubmatch(text, -1)
	classes := reClassTy.FindAllStringSubmatch(text, -1)
	if len(blocks) == 0 && len(classes) == 0 {
		return &ListPage{}, &ParseError{Format: models.FormatXML, Err: errors.New("no <video> or <ty> elements found")}
	}

	page := &ListPage{}
	if m := reListAttrs.FindStringSubmatch(text); m != nil {
		page.Page = atoiSafe(m[1])
		page.PageCount = atoiSafe(m[2])
	}
	for _, b := range blocks {
		block := b[1]
		item := RawItem{
			ItemID:       xmlField(block, "id"),
			Title:        xmlField(block, "name"),
			CategoryID:   atoiSafe(xmlField(block, "tid")),
			CategoryName: xmlField(block, "type"),
			Year:         xmlField(block, "year"),
			Area:         xmlField(block, "area"),
			Lang:         xmlField(block, "lang"),
			Actors:       xmlField(block, "actor"),
			Director:     xmlField(block, "director"),
			Synopsis:     xmlField(block, "des"),
			CoverURL:     xmlField(block, "pic"),
			Remarks:      xmlField(block, "note"),
			UpdatedAt:    xmlField(block, "last"),
		}
		item.PlayFrom, item.PlayURL = xmlPlayGroups(block)
		page.Items = append(page.Items, item)
	}
	for _, c := range classes {
		page.Categories = append(page.Categories, RawCategory{ID: atoiSafe(c[1]), Name: strings.TrimSpace(c[2])})
	}
	return page, nil
}

func xmlField(block, tag string) string {
	re := regexp.MustCompile(fmt.Sprintf(`(?s)<%s>(?:<!\[CDATA\[)?(.*?)(?:\]\]>)?</%s>`, tag, tag))
	if m := re.FindStringSubmatch(block); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

var reDD = regexp.MustCompile(`(?s)<dd flag="?([^">]*)"?>(?:<!\[CDATA\[)?(.*?)(?:\]\]>)?</dd>`)

func xmlPlayGroups(block string) (playFrom, playURL string) {
	matches := reDD.FindAllStringSubmatch(block, -1)
	froms := make([]string, 0, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		froms = append(froms, strings.TrimSpace(m[1]))
		urls = append(urls, strings.TrimSpace(m[2]))
	}
	return strings.Join(froms, "$$$"), strings.Join(urls, "$$$")
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
