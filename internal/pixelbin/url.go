package pixelbin

import (
	"net/url"
	"strings"
)

// Param is one key:value argument of a transformation.
type Param struct {
	Key   string
	Value string
}

// Transformation is a plugin operation such as erase.bg with its arguments.
type Transformation struct {
	Plugin    string
	Operation string
	Params    []Param
}

// EraseBg returns the background-removal transformation.
func EraseBg(params ...Param) Transformation {
	return Transformation{Plugin: "erase", Operation: "bg", Params: params}
}

// String renders the transformation in URL form, e.g.
// erase.bg(i:general,shadow:false,r:true).
func (t Transformation) String() string {
	var b strings.Builder
	b.WriteString(t.Plugin)
	b.WriteByte('.')
	b.WriteString(t.Operation)
	b.WriteByte('(')
	for i, p := range t.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Key)
		b.WriteByte(':')
		b.WriteString(p.Value)
	}
	b.WriteByte(')')
	return b.String()
}

// URLBuilder builds delivery URLs for one cloud. It does no network I/O.
type URLBuilder struct {
	CDN       string
	CloudName string
	Zone      string
}

// ImageURL returns the delivery URL of fileID with the given
// transformations chained in order.
func (u URLBuilder) ImageURL(fileID string, transformations ...Transformation) string {
	cdn := u.CDN
	if cdn == "" {
		cdn = DefaultCDNDomain
	}

	segments := []string{strings.TrimRight(cdn, "/"), "v2", url.PathEscape(u.CloudName)}
	if u.Zone != "" {
		segments = append(segments, url.PathEscape(u.Zone))
	}

	if len(transformations) == 0 {
		segments = append(segments, "original")
	} else {
		rendered := make([]string, len(transformations))
		for i, t := range transformations {
			rendered[i] = t.String()
		}
		segments = append(segments, strings.Join(rendered, "~"))
	}

	segments = append(segments, strings.TrimLeft(fileID, "/"))
	return strings.Join(segments, "/")
}
