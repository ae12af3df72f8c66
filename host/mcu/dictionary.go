package mcu

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commandIDs    map[string]uint16
	responseNames map[uint16]string
}

// ParseDictionary decodes the JSON served by identify
func ParseDictionary(data []byte) (*Dictionary, error) {
	d := &Dictionary{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dictionary: %w", err)
	}
	d.commandIDs = make(map[string]uint16, len(d.Commands))
	for sig, id := range d.Commands {
		d.commandIDs[messageName(sig)] = uint16(id)
	}
	d.responseNames = make(map[uint16]string, len(d.Responses))
	for sig, id := range d.Responses {
		d.responseNames[uint16(id)] = messageName(sig)
	}
	return d, nil
}

// messageName returns the name part of a "name arg=%c ..." signature
func messageName(signature string) string {
	name, _, _ := strings.Cut(signature, " ")
	return name
}

// CommandID returns the ID of a command by name
func (d *Dictionary) CommandID(name string) (uint16, bool) {
	id, ok := d.commandIDs[name]
	return id, ok
}

// ResponseName returns the name of a response by ID
func (d *Dictionary) ResponseName(id uint16) (string, bool) {
	name, ok := d.responseNames[id]
	return name, ok
}

// Enumeration returns the value of name within enumeration enum
func (d *Dictionary) Enumeration(enum, name string) (int, bool) {
	v, ok := d.Enumerations[enum][name]
	return v, ok
}
