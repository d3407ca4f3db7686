package helpers

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	pubmedBase = "https://pubmed.ncbi.nlm.nih.gov/"
	pmcBase    = "https://pmc.ncbi.nlm.nih.gov/articles/"
	doiBase    = "https://doi.org/"
)

var (
	pmidRe  = regexp.MustCompile(`^\d{1,9}$`)
	pmcidRe = regexp.MustCompile(`(?i)^PMC\d+$`)
	doiRe   = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
)

// SourceURL returns the canonical link for a study. A missing link falls back to the PubMed
// page for pmid; links that cannot be parsed are returned trimmed.
func SourceURL(raw, pmid string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PubMedURL(pmid)
	}
	if c, ok := CanonicalStudyURL(raw); ok {
		return c
	}
	return raw
}

// PubMedURL is the article page for a numeric PMID, or "" when pmid is not one.
func PubMedURL(pmid string) string {
	pmid = strings.TrimSpace(pmid)
	if !pmidRe.MatchString(pmid) {
		return ""
	}
	return pubmedBase + pmid + "/"
}

// CanonicalStudyURL normalises PubMed, PMC and DOI links to their canonical hosts. Other
// links get a lower-case host, https by default, no fragment and no utm_* parameters.
func CanonicalStudyURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if d := bareDOI(raw); d != "" {
		return doiBase + d, true
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	switch {
	case host == "pubmed.ncbi.nlm.nih.gov" && len(segs) > 0 && pmidRe.MatchString(segs[0]):
		return PubMedURL(segs[0]), true
	case host == "ncbi.nlm.nih.gov" && len(segs) > 1 && segs[0] == "pubmed" && pmidRe.MatchString(segs[1]):
		return PubMedURL(segs[1]), true
	case host == "ncbi.nlm.nih.gov" && len(segs) > 2 && segs[0] == "pmc" && segs[1] == "articles" && pmcidRe.MatchString(segs[2]):
		return pmcBase + strings.ToUpper(segs[2]) + "/", true
	case host == "pmc.ncbi.nlm.nih.gov" && len(segs) > 1 && segs[0] == "articles" && pmcidRe.MatchString(segs[1]):
		return pmcBase + strings.ToUpper(segs[1]) + "/", true
	case host == "doi.org" || host == "dx.doi.org":
		if d := bareDOI(strings.TrimPrefix(u.Path, "/")); d != "" {
			return doiBase + d, true
		}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if p := u.Port(); (u.Scheme == "http" && p == "80") || (u.Scheme == "https" && p == "443") {
		u.Host = strings.ToLower(u.Hostname())
	}
	if u.Path != "" {
		clean := path.Clean(u.Path)
		if strings.HasSuffix(u.Path, "/") && clean != "/" {
			clean += "/"
		}
		u.Path = clean
	}
	u.Fragment = ""
	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}

// bareDOI recognises "10.x/y", "doi:10.x/y" and returns the DOI, unescaped.
func bareDOI(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 4 && strings.EqualFold(s[:4], "doi:") {
		s = strings.TrimSpace(s[4:])
	}
	if un, err := url.PathUnescape(s); err == nil {
		s = un
	}
	if doiRe.MatchString(s) {
		return s
	}
	return ""
}
