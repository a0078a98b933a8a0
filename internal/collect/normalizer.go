package collect

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Episode is one playable entry inside a play group.
type Episode struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PlaySource is the canonical play group: the collecting source it came from,
// the play-line name the source advertises, and the ordered episode list.
// Origin is stamped by the merger; the normalizer only fills Source.
type PlaySource struct {
	Origin   string    `json:"origin,omitempty"`
	Source   string    `json:"source"`
	Episodes []Episode `json:"episodes"`
}

const (
	groupDelimiter   = "$$$"
	episodeDelimiter = "#"
	nameURLDelimiter = "$"
)

// NormalizePlay parses the delimiter-encoded play fields of the common
// listing dialects into canonical play groups. playFrom names the groups
// (outer-delimited); playURL carries the matching outer-delimited groups of
// inner-delimited name$url episode pairs. Episodes whose URL is not an
// absolute http(s) URL are dropped; order is preserved.
func NormalizePlay(playFrom, playURL string) []PlaySource {
	urlGroups := splitTrimmed(playURL, groupDelimiter)
	fromGroups := splitTrimmed(playFrom, groupDelimiter)

	out := make([]PlaySource, 0, len(urlGroups))
	for i, group := range urlGroups {
		name := ""
		if i < len(fromGroups) {
			name = fromGroups[i]
		}
		if name == "" {
			name = "line" + strconv.Itoa(i+1)
		}
		episodes := parseEpisodes(group)
		if len(episodes) == 0 {
			continue
		}
		out = append(out, PlaySource{Source: name, Episodes: episodes})
	}
	return out
}

// NormalizePlayField is the shape-detecting entry point: canonical input
// (already []PlaySource) is returned unchanged rather than re-parsed as a
// delimited string.
func NormalizePlayField(playFrom string, raw any) []PlaySource {
	switch v := raw.(type) {
	case []PlaySource:
		return v
	case PlaySource:
		return []PlaySource{v}
	case string:
		return NormalizePlay(playFrom, v)
	case nil:
		return nil
	default:
		return nil
	}
}

func parseEpisodes(group string) []Episode {
	parts := strings.Split(group, episodeDelimiter)
	episodes := make([]Episode, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rawURL := "", part
		if idx := strings.Index(part, nameURLDelimiter); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			rawURL = strings.TrimSpace(part[idx+1:])
		}
		if !isPlayableURL(rawURL) {
			continue
		}
		if name == "" {
			name = "第" + strconv.Itoa(i+1) + "集"
		}
		episodes = append(episodes, Episode{Name: name, URL: rawURL})
	}
	return episodes
}

func isPlayableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

func splitTrimmed(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// NormalizeImageURL repairs the cover-URL encodings sources actually emit:
// scheme-relative, missing scheme, or surrounding junk. Unusable values
// collapse to "".
func NormalizeImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if strings.Contains(raw, ".") && !strings.ContainsAny(raw, " \t") {
			raw = "https://" + raw
		} else {
			return ""
		}
	}
	if _, err := url.Parse(raw); err != nil {
		return ""
	}
	return raw
}

// areaAliases folds the region spellings different sources use into one
// canonical name.
var areaAliases = map[string]string{
	"大陆":   "中国大陆",
	"内地":   "中国大陆",
	"国产":   "中国大陆",
	"中国":   "中国大陆",
	"中国大陆": "中国大陆",
	"香港":   "中国香港",
	"中国香港": "中国香港",
	"台湾":   "中国台湾",
	"中国台湾": "中国台湾",
	"美国":   "美国",
	"欧美":   "欧美",
	"韩国":   "韩国",
	"日本":   "日本",
	"英国":   "英国",
	"法国":   "法国",
	"泰国":   "泰国",
	"印度":   "印度",
}

func NormalizeArea(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	// Multi-valued fields keep their first region.
	for _, sep := range []string{",", "，", "/", " "} {
		if idx := strings.Index(raw, sep); idx > 0 {
			raw = raw[:idx]
			break
		}
	}
	if canonical, ok := areaAliases[raw]; ok {
		return canonical
	}
	return raw
}

var reYear = regexp.MustCompile(`(19|20)\d{2}`)

// NormalizeYear extracts the first plausible four-digit year; 0 when absent.
func NormalizeYear(raw string) int {
	m := reYear.FindString(raw)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}
