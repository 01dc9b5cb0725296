package trackblocks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document>
  <Folder>
    <Placemark>
      <name>Britomart 300+301</name>
      <description>303,"S3",Default,90deg
304,"S4",Default,270deg</description>
      <Polygon><outerBoundaryIs><LinearRing><coordinates>
        174.76,-36.85,0 174.77,-36.85,0 174.77,-36.84,0 174.76,-36.84,0
      </coordinates></LinearRing></outerBoundaryIs></Polygon>
    </Placemark>
    <Placemark>
      <name>12</name>
      <Polygon><outerBoundaryIs><LinearRing><coordinates>
        174.70,-36.90 174.71,-36.90 174.71,-36.89
      </coordinates></LinearRing></outerBoundaryIs></Polygon>
    </Placemark>
    <Placemark>
      <name>45 [EAST,WEST]</name>
      <Polygon><outerBoundaryIs><LinearRing><coordinates>
        174.80,-36.80 174.81,-36.80 174.81,-36.79
      </coordinates></LinearRing></outerBoundaryIs></Polygon>
    </Placemark>
    <Placemark>
      <name>no digits here</name>
      <Polygon><outerBoundaryIs><LinearRing><coordinates>
        174.80,-36.80 174.81,-36.80 174.81,-36.79
      </coordinates></LinearRing></outerBoundaryIs></Polygon>
    </Placemark>
  </Folder>
</Document>
</kml>`

func TestParseKML(t *testing.T) {
	m, err := Parse([]byte(sampleKML))
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	britomart, ok := m.Get(300)
	require.True(t, ok)
	assert.Equal(t, 300, britomart.BlockNumber)
	require.NotNil(t, britomart.AltBlock)
	assert.Equal(t, 301, *britomart.AltBlock)
	assert.True(t, britomart.Priority, "three letter run marks priority")
	assert.Empty(t, britomart.Routes)
	assert.Len(t, britomart.Polygon, 4)

	require.Len(t, britomart.Platforms, 2)
	p3, p4 := britomart.Platforms[0], britomart.Platforms[1]
	assert.Equal(t, 303, p3.BlockNumber)
	assert.Equal(t, []string{"S3"}, p3.StopIDs)
	assert.True(t, p3.IsDefault)
	require.NotNil(t, p3.Bearing)
	assert.Equal(t, 90.0, *p3.Bearing)
	assert.Equal(t, 304, p4.BlockNumber)
	require.NotNil(t, p4.Bearing)
	assert.Equal(t, 270.0, *p4.Bearing)

	plain, ok := m.Get(12)
	require.True(t, ok)
	assert.False(t, plain.Priority)
	assert.Nil(t, plain.AltBlock)

	routed, ok := m.Get(45)
	require.True(t, ok)
	assert.Equal(t, []string{"EAST", "WEST"}, routed.Routes)
}

func TestCanonicalOrder(t *testing.T) {
	m, err := Parse([]byte(sampleKML))
	require.NoError(t, err)

	// Blocks with routes come first, then priority, then insertion order.
	var numbers []int
	for _, b := range m.Blocks() {
		numbers = append(numbers, b.BlockNumber)
	}
	assert.Equal(t, []int{45, 300, 12}, numbers)
}

func TestParsePlatformLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Platform
	}{
		{
			name: "stop ids semicolon separated",
			line: `101,"S1;S2"`,
			want: Platform{BlockNumber: 101, StopIDs: []string{"S1", "S2"}},
		},
		{
			name: "negative bearing normalized",
			line: `102,Default,-90deg`,
			want: Platform{BlockNumber: 102, IsDefault: true, Bearing: float64ptr(270)},
		},
		{
			name: "routes survive embedded comma",
			line: `103,[EAST,WEST],Default`,
			want: Platform{BlockNumber: 103, IsDefault: true, Routes: []string{"EAST", "WEST"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePlatformLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parsePlatformLine(`notanumber,"S1"`)
	assert.Error(t, err)
}

func TestRouteSubstringMatch(t *testing.T) {
	b := &TrackBlock{Routes: []string{"EAST"}}
	assert.True(t, b.AllowsRoute("EAST-201"))
	assert.False(t, b.AllowsRoute("WEST-101"))

	open := &TrackBlock{}
	assert.True(t, open.AllowsRoute("anything"))
}

func TestMapResolve(t *testing.T) {
	alt := 301
	m := NewMap([]*TrackBlock{
		{BlockNumber: 300, AltBlock: &alt, Platforms: []Platform{{BlockNumber: 303}}},
	})

	for _, num := range []int{300, 301, 303} {
		b, ok := m.Resolve(num)
		require.True(t, ok, "resolve %d", num)
		assert.Equal(t, 300, b.BlockNumber)
	}
	_, ok := m.Resolve(999)
	assert.False(t, ok)
}

func TestParseStops(t *testing.T) {
	csv := "stop_id,stop_name,stop_lat,stop_lon,extra\n" +
		"S1,Britomart,-36.844,174.767,x\n" +
		"S2,Newmarket,-36.869,174.779,y\n"
	stops, err := ParseStops(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Equal(t, "Britomart", stops["S1"].Name)
	assert.InDelta(t, -36.844, stops["S1"].Lat, 1e-9)

	_, err = ParseStops(strings.NewReader("a,b\n1,2\n"))
	assert.Error(t, err, "missing stop_id column")
}

func float64ptr(v float64) *float64 { return &v }
