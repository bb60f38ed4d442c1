package geopin

// Envelope is an immutable bounding box used by the overlaps operation.
type Envelope struct {
	west  float64
	south float64
	east  float64
	north float64
}

func NewEnvelope(west, south, east, north float64) Envelope {
	return Envelope{west: west, south: south, east: east, north: north}
}

func (e Envelope) West() float64  { return e.west }
func (e Envelope) South() float64 { return e.south }
func (e Envelope) East() float64  { return e.east }
func (e Envelope) North() float64 { return e.north }

// String renders the wire form west,south,east,north with plain decimal
// coordinates.
func (e Envelope) String() string {
	return formatCoord(e.west) + "," + formatCoord(e.south) + "," +
		formatCoord(e.east) + "," + formatCoord(e.north)
}
