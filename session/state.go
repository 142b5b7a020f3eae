package session

import "github.com/matematik7/travelmap-go/markers"

// Mode is the interaction mode of a session. Exactly one dialog and one
// draft may be open at a time; the engine event loop is the only owner of
// the current mode.
type Mode int

const (
	// ModeBrowse is the default mode, no dialog open.
	ModeBrowse Mode = iota
	// ModePlacing holds clicked coordinates and a draft for a marker
	// that does not exist in the store yet.
	ModePlacing
	// ModeEditing holds a re-fetched marker and the draft editing it.
	ModeEditing
)

func (m Mode) String() string {
	switch m {
	case ModeBrowse:
		return "browse"
	case ModePlacing:
		return "placing"
	case ModeEditing:
		return "editing"
	}
	return "unknown"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "placing":
		*m = ModePlacing
	case "editing":
		*m = ModeEditing
	default:
		*m = ModeBrowse
	}
	return nil
}

// state bundles the mode with the data only valid in that mode. coords is
// set while placing, base is the store-fetched marker while editing.
type state struct {
	mode   Mode
	coords markers.Coords
	base   markers.Marker
	draft  markers.Draft
}

func browse() state {
	return state{mode: ModeBrowse}
}

func placing(at markers.Coords) state {
	return state{mode: ModePlacing, coords: at}
}

func editing(base markers.Marker) state {
	return state{mode: ModeEditing, base: base, draft: markers.DraftOf(base)}
}

func (s state) dialogOpen() bool {
	return s.mode != ModeBrowse
}
