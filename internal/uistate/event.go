package uistate

import "fmt"

// DragEvent is one of the drag gestures reported by the drop target.
type DragEvent string

const (
	DragEventEnter DragEvent = "enter"
	DragEventOver  DragEvent = "over"
	DragEventLeave DragEvent = "leave"
)

// ParseDragEvent validates a drag event name.
func ParseDragEvent(name string) (DragEvent, error) {
	switch ev := DragEvent(name); ev {
	case DragEventEnter, DragEventOver, DragEventLeave:
		return ev, nil
	default:
		return "", fmt.Errorf("unknown drag event %q", name)
	}
}

// Apply routes a drag event to its transition.
func (s *State) Apply(ev DragEvent) {
	switch ev {
	case DragEventEnter:
		s.DragEnter()
	case DragEventOver:
		s.DragOver()
	case DragEventLeave:
		s.DragLeave()
	}
}

// Source identifies how a file list reached the page.
type Source string

const (
	SourcePicker Source = "picker"
	SourceDrop   Source = "drop"
)

// ParseSource validates a selection source; an empty name means the picker.
func ParseSource(name string) (Source, error) {
	switch src := Source(name); src {
	case "":
		return SourcePicker, nil
	case SourcePicker, SourceDrop:
		return src, nil
	default:
		return "", fmt.Errorf("unknown source %q", name)
	}
}

// Accept applies a file list from the given source.
func (s *State) Accept(src Source, files []File) bool {
	if src == SourceDrop {
		return s.Drop(files)
	}
	return s.Select(files)
}
