// Package gpx decodes GPX files into raw driving tracks and writes the
// canonical store back out as GPX.
package gpx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const namespaceGPX11 = "http://www.topografix.com/GPX/1/1"

// Parse reads and parses a GPX file.
func Parse(filename string) (*GPX, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ParseReader(file)
}

// ParseReader parses GPX from an io.Reader.
func ParseReader(r io.Reader) (*GPX, error) {
	decoder := xml.NewDecoder(r)

	var gpxData GPX
	if err := decoder.Decode(&gpxData); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}
	return &gpxData, nil
}

// Write saves GPX data to a file.
func (g *GPX) Write(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := g.WriteToWriter(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteToWriter writes GPX data to an io.Writer.
func (g *GPX) WriteToWriter(w io.Writer) error {
	if g.XMLNS == "" {
		g.XMLNS = namespaceGPX11
	}
	if g.Version == "" {
		g.Version = "1.1"
	}

	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")

	if err := encoder.Encode(g); err != nil {
		return fmt.Errorf("failed to encode GPX: %w", err)
	}
	return encoder.Close()
}

// extensionSpeed returns the first <speed> element found in an extensions
// block, whatever its namespace prefix (gpxtpx:speed, mytracks:speed, ...).
func extensionSpeed(raw RawXML) (float64, bool, error) {
	if len(raw) == 0 {
		return 0, false, nil
	}

	decoder := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("failed to read extensions: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, "speed") {
			continue
		}

		var text string
		if err := decoder.DecodeElement(&text, &start); err != nil {
			return 0, false, fmt.Errorf("failed to read speed: %w", err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid speed %q: %w", text, err)
		}
		return v, true, nil
	}
}
