package gpx

import (
	"encoding/xml"
	"time"
)

// RawXML preserves nested extension blocks without re-parsing them.
// The inner XML bytes are kept verbatim so speed tags can be read later and
// extensions written by other tools survive an export.
type RawXML []byte

func (r RawXML) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if len(r) == 0 {
		return nil
	}

	type inner struct {
		Content string `xml:",innerxml"`
	}

	return e.EncodeElement(inner{Content: string(r)}, start)
}

func (r *RawXML) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	type inner struct {
		Content string `xml:",innerxml"`
	}

	var data inner
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}

	if len(data.Content) == 0 {
		*r = nil
		return nil
	}

	*r = append((*r)[:0], data.Content...)
	return nil
}

// Point is a GPX track point. Speed is the GPX 1.0 <speed> element; GPX 1.1
// devices put it in the extensions instead.
type Point struct {
	Lat        float64   `xml:"lat,attr"`
	Lon        float64   `xml:"lon,attr"`
	Elevation  *float64  `xml:"ele,omitempty"`
	Time       time.Time `xml:"time,omitempty"`
	Speed      *float64  `xml:"speed,omitempty"`
	Extensions RawXML    `xml:"extensions,omitempty"`
}

// Track is a GPX <trk>.
type Track struct {
	Name        string         `xml:"name,omitempty"`
	Description string         `xml:"desc,omitempty"`
	Segments    []TrackSegment `xml:"trkseg"`
	Extensions  RawXML         `xml:"extensions,omitempty"`
}

// TrackSegment is a GPX <trkseg>.
type TrackSegment struct {
	Points     []Point `xml:"trkpt"`
	Extensions RawXML  `xml:"extensions,omitempty"`
}

// GPX is the document root.
type GPX struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`

	XMLNS    string `xml:"xmlns,attr,omitempty"`
	XMLNSXSI string `xml:"xmlns:xsi,attr,omitempty"`
	XSI      string `xml:"xsi:schemaLocation,attr,omitempty"`

	// Garmin namespaces carrying speed extensions
	XMLNSGPXTPX string `xml:"xmlns:gpxtpx,attr,omitempty"`
	XMLNSGPXX   string `xml:"xmlns:gpxx,attr,omitempty"`

	Metadata   *Metadata `xml:"metadata,omitempty"`
	Tracks     []Track   `xml:"trk"`
	Extensions RawXML    `xml:"extensions,omitempty"`
}

// Metadata is the GPX <metadata> block.
type Metadata struct {
	Name        string    `xml:"name,omitempty"`
	Description string    `xml:"desc,omitempty"`
	Time        time.Time `xml:"time,omitempty"`
}
