package wkt

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	kwPolygon      = "POLYGON"
	kwMultiPolygon = "MULTIPOLYGON"
	kwEmpty        = "EMPTY"
)

// ParsePolygon decodes a POLYGON literal. The first ring is the outer ring,
// the rest are holes.
func (c *Codec) ParsePolygon(text string) (*PolygonWithHoles, error) {
	p, err := c.newParser(text, kwPolygon)
	if err != nil {
		c.rejected("polygon", err)
		return nil, err
	}
	poly, err := p.polygonText()
	if err == nil {
		err = p.expectEOF()
	}
	if err != nil {
		c.rejected("polygon", err)
		return nil, err
	}
	return poly, nil
}

// ParseMultiPolygon decodes a MULTIPOLYGON literal. Polygons whose outer
// ring does not survive are skipped; it fails only when none survive.
func (c *Codec) ParseMultiPolygon(text string) (*MultiPolygon, error) {
	p, err := c.newParser(text, kwMultiPolygon)
	if err != nil {
		c.rejected("multipolygon", err)
		return nil, err
	}
	mp, err := p.multiPolygonText()
	if err == nil {
		err = p.expectEOF()
	}
	if err != nil {
		c.rejected("multipolygon", err)
		return nil, err
	}
	return mp, nil
}

// ParseGeometry dispatches on the leading keyword. A POLYGON is returned as a
// one-element MultiPolygon.
func (c *Codec) ParseGeometry(text string) (*MultiPolygon, error) {
	kw, offset := leadingKeyword(text)
	switch kw {
	case "":
		err := &ParseError{Reason: ErrEmptyInput}
		c.rejected("geometry", err)
		return nil, err
	case kwMultiPolygon:
		return c.ParseMultiPolygon(text)
	case kwPolygon:
		poly, err := c.ParsePolygon(text)
		if err != nil {
			return nil, err
		}
		return &MultiPolygon{Polygons: []PolygonWithHoles{*poly}}, nil
	}
	err := parseErr(ErrUnknownKeyword, offset, "%q", kw)
	c.rejected("geometry", err)
	return nil, err
}

// Keyword returns the upper-cased leading keyword of text, or "" when blank.
func Keyword(text string) string {
	kw, _ := leadingKeyword(text)
	return kw
}

// leadingKeyword returns the upper-cased first atom of text.
func leadingKeyword(text string) (string, int) {
	toks := tokenize(text)
	if toks[0].kind != tokAtom {
		if toks[0].kind == tokEOF {
			return "", 0
		}
		return toks[0].text, toks[0].offset
	}
	return strings.ToUpper(toks[0].text), toks[0].offset
}

type parser struct {
	codec *Codec
	toks  []token
	pos   int

	// lenient lets end of input close a polygon inside a MULTIPOLYGON.
	lenient     bool
	sawUnclosed bool
}

func (c *Codec) newParser(text, keyword string) (*parser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Reason: ErrEmptyInput}
	}
	p := &parser{codec: c, toks: tokenize(text)}
	kw := p.peek()
	if kw.kind != tokAtom || !strings.EqualFold(kw.text, keyword) {
		return nil, parseErr(ErrUnknownKeyword, kw.offset, "expected %s, found %q", keyword, kw.text)
	}
	p.pos++
	if next := p.peek(); next.kind == tokAtom && strings.EqualFold(next.text, kwEmpty) {
		return nil, parseErr(ErrInsufficientPoints, next.offset, "%s EMPTY has no rings", keyword)
	}
	return p, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.advance()
	if t.kind != kind {
		return t, parseErr(ErrMalformed, t.offset, "expected %s, found %s", kind, describe(t))
	}
	return t, nil
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.kind != tokEOF {
		return parseErr(ErrMalformed, t.offset, "unexpected %s after geometry", describe(t))
	}
	return nil
}

func describe(t token) string {
	if t.kind == tokAtom {
		return fmt.Sprintf("%q", t.text)
	}
	return t.kind.String()
}

// multiPolygonText: "(" polygonText ("," polygonText)* ")". A polygon that
// fails is skipped; after a syntax error the parser resumes at the next
// ")), ((" boundary. End of input stands in for missing closing parens.
func (p *parser) multiPolygonText() (*MultiPolygon, error) {
	open, err := p.expect(tokLParen)
	if err != nil {
		return nil, err
	}
	p.lenient = true
	mp := &MultiPolygon{}
	var firstReject error
	skip := func(start int, err error) {
		if firstReject == nil {
			firstReject = err
		}
		p.codec.report(Anomaly{Kind: AnomalyPolygonSkipped, Offset: start, Detail: err.Error()})
	}
	for {
		start := p.peek().offset
		poly, err := p.polygonText()
		switch {
		case err == nil:
			mp.Polygons = append(mp.Polygons, *poly)
		case errors.Is(err, ErrInsufficientPoints) || errors.Is(err, ErrCoordinateParse):
			skip(start, err)
		case errors.Is(err, ErrMalformed):
			skip(start, err)
			if !p.resync() {
				return finishMulti(mp, firstReject, open.offset)
			}
		default:
			return nil, err
		}
		t := p.advance()
		if t.kind == tokRParen {
			break
		}
		if t.kind == tokEOF {
			p.unclosed(t.offset)
			break
		}
		if t.kind != tokComma {
			return nil, parseErr(ErrMalformed, t.offset, "expected ',' or ')' between polygons, found %s", describe(t))
		}
	}
	return finishMulti(mp, firstReject, open.offset)
}

func finishMulti(mp *MultiPolygon, firstReject error, offset int) (*MultiPolygon, error) {
	if len(mp.Polygons) == 0 {
		if firstReject == nil {
			firstReject = parseErr(ErrInsufficientPoints, offset, "no polygons")
		}
		return nil, firstReject
	}
	return mp, nil
}

// resync moves to the comma of the next ")), ((" boundary. When none is left
// it consumes the rest of the input and returns false.
func (p *parser) resync() bool {
	for i := max(p.pos-1, 0); i+3 < len(p.toks); i++ {
		if p.toks[i].kind == tokRParen && p.toks[i+1].kind == tokRParen &&
			p.toks[i+2].kind == tokComma && p.toks[i+3].kind == tokLParen {
			p.pos = i + 2
			return true
		}
	}
	p.pos = len(p.toks) - 1
	return false
}

// unclosed accepts end of input in place of the remaining closing parens.
func (p *parser) unclosed(offset int) {
	if p.sawUnclosed {
		return
	}
	p.sawUnclosed = true
	p.codec.report(Anomaly{Kind: AnomalyUnclosedText, Offset: offset, Detail: "missing closing parenthesis"})
}

// polygonText: "(" ring ("," ring)* ")". Syntax is checked for every ring
// before the outer ring's size is judged, so a caller can skip the polygon
// and continue after it.
func (p *parser) polygonText() (*PolygonWithHoles, error) {
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	var rings []parsedRing
	for {
		r, err := p.ring()
		if err != nil {
			return nil, err
		}
		rings = append(rings, r)
		t := p.advance()
		if t.kind == tokRParen {
			break
		}
		if t.kind == tokEOF && p.lenient {
			p.unclosed(t.offset)
			break
		}
		if t.kind != tokComma {
			return nil, parseErr(ErrMalformed, t.offset, "expected ',' or ')' between rings, found %s", describe(t))
		}
	}

	outer := rings[0]
	if len(outer.points) < 3 {
		reason := ErrInsufficientPoints
		if outer.dropped > 0 {
			reason = ErrCoordinateParse
		}
		return nil, parseErr(reason, outer.offset,
			"outer ring has %d valid points (%d dropped), need 3", len(outer.points), outer.dropped)
	}
	poly := &PolygonWithHoles{Outer: outer.points, Holes: []Ring{}}
	for _, h := range rings[1:] {
		if len(h.points) < 3 {
			p.codec.report(Anomaly{
				Kind:   AnomalyHoleDropped,
				Offset: h.offset,
				Detail: fmt.Sprintf("hole has %d valid points", len(h.points)),
			})
			continue
		}
		poly.Holes = append(poly.Holes, h.points)
	}
	return poly, nil
}

type parsedRing struct {
	points  Ring
	dropped int
	offset  int
}

// ring: "(" pair ("," pair)* ")". A pair is whatever atoms sit between two
// separators; pairs that are not exactly two finite numbers are dropped.
func (p *parser) ring() (parsedRing, error) {
	open, err := p.expect(tokLParen)
	if err != nil {
		return parsedRing{}, err
	}
	r := parsedRing{offset: open.offset}
	var fields []token
	for {
		t := p.advance()
		switch t.kind {
		case tokAtom:
			fields = append(fields, t)
			continue
		case tokComma, tokRParen:
			if t.kind == tokRParen && len(fields) == 0 && len(r.points) == 0 && r.dropped == 0 {
				return r, nil // "()"
			}
			if pt, ok := p.pair(fields, t.offset); ok {
				r.points = append(r.points, pt)
			} else {
				r.dropped++
			}
			fields = fields[:0]
			if t.kind == tokRParen {
				return r, nil
			}
		default:
			return parsedRing{}, parseErr(ErrMalformed, t.offset, "unexpected %s inside ring", describe(t))
		}
	}
}

// pair converts "<lon> <lat>" into an internal point.
func (p *parser) pair(fields []token, end int) (Point, bool) {
	offset := end
	if len(fields) > 0 {
		offset = fields[0].offset
	}
	if len(fields) != 2 {
		p.codec.report(Anomaly{
			Kind:   AnomalyPairDropped,
			Offset: offset,
			Detail: fmt.Sprintf("expected 2 coordinate fields, found %d", len(fields)),
		})
		return Point{}, false
	}
	lon, okLon := parseField(fields[0].text)
	lat, okLat := parseField(fields[1].text)
	if !okLon || !okLat {
		p.codec.report(Anomaly{
			Kind:   AnomalyPairDropped,
			Offset: offset,
			Detail: fmt.Sprintf("not a finite number pair: %q %q", fields[0].text, fields[1].text),
		})
		return Point{}, false
	}

	if math.Abs(lat) > MaxLat && math.Abs(lon) <= MaxLat {
		p.codec.report(Anomaly{
			Kind:   AnomalySuspectedSwap,
			Offset: offset,
			Detail: fmt.Sprintf("pair %s %s looks like lat lon; wire order is lon lat", fields[0].text, fields[1].text),
		})
	}
	if clamped := ClampLat(lat); clamped != lat {
		p.codec.report(Anomaly{
			Kind:   AnomalyLatClamped,
			Offset: fields[1].offset,
			Detail: fmt.Sprintf("latitude %s clamped to %s", fields[1].text, formatNumber(clamped)),
		})
		lat = clamped
	}
	pt := Point{Lat: lat, Lon: lon}
	if !InDomain(pt) {
		p.codec.report(Anomaly{
			Kind:   AnomalyLonOutOfRange,
			Offset: fields[0].offset,
			Detail: fmt.Sprintf("longitude %s is outside [-180, 180]", fields[0].text),
		})
	}
	return pt, true
}
