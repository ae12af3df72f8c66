package sim

// Echo drives back the byte it receives in the same frame
type Echo struct{}

// Exchange implements Slave
func (Echo) Exchange(mosi byte) byte { return mosi }

// Script replays a fixed response and records what the master sent.
// It answers 0xFF once the response is exhausted or while deselected.
type Script struct {
	Response []byte
	Received []byte

	// AlwaysSelected makes the device ignore chip select
	AlwaysSelected bool

	selected bool
	pos      int
	// Sessions counts select edges
	Sessions int
}

// NewScript creates a device that is always selected
func NewScript(response ...byte) *Script {
	return &Script{Response: response, AlwaysSelected: true}
}

// Select implements Selectable
func (s *Script) Select() {
	s.selected = true
	s.Sessions++
}

// Deselect implements Selectable
func (s *Script) Deselect() {
	s.selected = false
}

// Exchange implements Slave
func (s *Script) Exchange(mosi byte) byte {
	if !s.selected && !s.AlwaysSelected {
		return 0xFF
	}
	s.Received = append(s.Received, mosi)
	if s.pos >= len(s.Response) {
		return 0xFF
	}
	b := s.Response[s.pos]
	s.pos++
	return b
}
