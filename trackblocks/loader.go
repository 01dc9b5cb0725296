package trackblocks

import (
	"encoding/xml"
	"fmt"
	"log"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/CDFER/LED-Rails-Backend/geo"
)

type kmlPlacemark struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Coordinates string `xml:"Polygon>outerBoundaryIs>LinearRing>coordinates"`
}

type kmlFolder struct {
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlDocument struct {
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlRoot struct {
	Document kmlDocument `xml:"Document"`
}

var (
	digitRunRe = regexp.MustCompile(`[0-9]+`)
	altBlockRe = regexp.MustCompile(`\+([0-9]+)`)
	routesRe   = regexp.MustCompile(`\[([^\]]*)\]`)
	priorityRe = regexp.MustCompile(`[A-Za-z]{3,}`)
	bearingRe  = regexp.MustCompile(`^(-?[0-9]+(?:\.[0-9]+)?)deg$`)
)

// Load reads a KML file of track block placemarks and returns the canonical
// ordered map.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes KML bytes into a Map. Placemarks without any digit run in
// their name or with fewer than three polygon vertices are skipped with a
// warning.
func Parse(data []byte) (*Map, error) {
	var root kmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("kml decode: %w", err)
	}
	var placemarks []kmlPlacemark
	collect(&placemarks, root.Document.Folders, root.Document.Placemarks)

	blocks := make([]*TrackBlock, 0, len(placemarks))
	for _, pm := range placemarks {
		b, err := parsePlacemark(pm)
		if err != nil {
			log.Printf("trackblocks: skipping placemark %q: %v", pm.Name, err)
			continue
		}
		blocks = append(blocks, b)
	}
	return NewMap(blocks), nil
}

func collect(dst *[]kmlPlacemark, folders []kmlFolder, placemarks []kmlPlacemark) {
	*dst = append(*dst, placemarks...)
	for _, f := range folders {
		collect(dst, f.Folders, f.Placemarks)
	}
}

func parsePlacemark(pm kmlPlacemark) (*TrackBlock, error) {
	numStr := digitRunRe.FindString(pm.Name)
	if numStr == "" {
		return nil, fmt.Errorf("name has no block number")
	}
	blockNumber, _ := strconv.Atoi(numStr)

	b := &TrackBlock{
		BlockNumber: blockNumber,
		Name:        pm.Name,
		Priority:    priorityRe.MatchString(pm.Name),
	}
	if m := altBlockRe.FindStringSubmatch(pm.Name); m != nil {
		alt, _ := strconv.Atoi(m[1])
		b.AltBlock = &alt
	}
	if m := routesRe.FindStringSubmatch(pm.Name); m != nil {
		b.Routes = splitRoutes(m[1])
	}

	polygon, err := parseCoordinates(pm.Coordinates)
	if err != nil {
		return nil, err
	}
	if len(polygon) < 3 {
		return nil, fmt.Errorf("polygon has %d vertices", len(polygon))
	}
	b.Polygon = polygon

	if desc := strings.TrimSpace(pm.Description); desc != "" {
		b.Platforms = parsePlatforms(desc, blockNumber)
		validatePlatforms(b)
	}
	return b, nil
}

func splitRoutes(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseCoordinates reads space-separated "lon,lat[,alt]" triples.
func parseCoordinates(raw string) ([]geo.Point, error) {
	var points []geo.Point
	for _, tok := range strings.Fields(raw) {
		parts := strings.Split(tok, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad coordinate %q", tok)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude %q", parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude %q", parts[1])
		}
		points = append(points, geo.Point{Lat: lat, Lon: lon})
	}
	return points, nil
}

// parsePlatforms reads the description CSV, one platform per line.
func parsePlatforms(desc string, blockNumber int) []Platform {
	var platforms []Platform
	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p, err := parsePlatformLine(line)
		if err != nil {
			log.Printf("trackblocks: block %d: skipping platform line %q: %v", blockNumber, line, err)
			continue
		}
		platforms = append(platforms, p)
	}
	return platforms
}

func parsePlatformLine(line string) (Platform, error) {
	var p Platform
	fields := splitOutsideBrackets(line)
	if len(fields) == 0 {
		return p, fmt.Errorf("empty line")
	}
	first := strings.TrimSpace(fields[0])
	num, err := strconv.Atoi(first)
	if err != nil {
		return p, fmt.Errorf("first field %q is not a block number", first)
	}
	p.BlockNumber = num

	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		switch {
		case f == "":
		case f == "Default":
			p.IsDefault = true
		case bearingRe.MatchString(f):
			m := bearingRe.FindStringSubmatch(f)
			deg, _ := strconv.ParseFloat(m[1], 64)
			deg = math.Mod(math.Mod(deg, 360)+360, 360)
			p.Bearing = &deg
		case strings.HasPrefix(f, "["):
			if m := routesRe.FindStringSubmatch(f); m != nil {
				p.Routes = splitRoutes(m[1])
			}
		case strings.Contains(f, `"`) || strings.Contains(f, ";"):
			for _, sid := range strings.Split(strings.ReplaceAll(f, `"`, ""), ";") {
				if sid = strings.TrimSpace(sid); sid != "" {
					p.StopIDs = append(p.StopIDs, sid)
				}
			}
		default:
			log.Printf("trackblocks: ignoring platform token %q", f)
		}
	}
	return p, nil
}

// splitOutsideBrackets splits on commas that are not inside [...].
func splitOutsideBrackets(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func validatePlatforms(b *TrackBlock) {
	seen := map[int]bool{}
	for _, p := range b.Platforms {
		if seen[p.BlockNumber] {
			log.Printf("trackblocks: block %d: duplicate platform block number %d", b.BlockNumber, p.BlockNumber)
		}
		seen[p.BlockNumber] = true
	}
	// Any two platform bearings within one block must be equal or opposite.
	for i := 0; i < len(b.Platforms); i++ {
		for j := i + 1; j < len(b.Platforms); j++ {
			bi, bj := b.Platforms[i].Bearing, b.Platforms[j].Bearing
			if bi == nil || bj == nil {
				continue
			}
			d := geo.BearingDifference(*bi, *bj)
			if d > 0.5 && math.Abs(d-180) > 0.5 {
				log.Printf("trackblocks: block %d: platform bearings %.0f and %.0f are neither equal nor opposite",
					b.BlockNumber, *bi, *bj)
			}
		}
	}
}
