package pipeline

import "strings"

// ResolveTable returns the first table whose trailing name segment is a
// substring of tag.
//
//	ResolveTable("Stage.TableA", tables) // matches "ingress.TableA"
func ResolveTable(tag string, tables []Table) (Table, bool) {
	for _, t := range tables {
		if strings.Contains(tag, lastSegment(t.Name)) {
			return t, true
		}
	}
	return Table{}, false
}

// ResolveAction returns the first action whose trailing name segment is a
// substring of tag.
func ResolveAction(tag string, actions []Action) (Action, bool) {
	for _, a := range actions {
		if strings.Contains(tag, lastSegment(a.Name)) {
			return a, true
		}
	}
	return Action{}, false
}

// lastSegment returns the part of a qualified name after its last '.'.
func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
