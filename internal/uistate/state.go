// Package uistate holds the per-session state of the image checker page and
// the transitions that are allowed to change it.
package uistate

// MessageNoFile is shown when the check action runs without a selected file.
const MessageNoFile = "Please select an image file."

// File is the image the user selected or dropped.
type File struct {
	Name        string `msgpack:"name" json:"name"`
	ContentType string `msgpack:"content_type" json:"content_type"`
	Data        []byte `msgpack:"data" json:"-"`
}

// State is the full UI state of one browser session.
type State struct {
	File             *File  `msgpack:"file"`
	PreviewVersion   uint64 `msgpack:"preview_version"`
	Message          string `msgpack:"message"`
	Loading          bool   `msgpack:"loading"`
	DragActive       bool   `msgpack:"drag_active"`
	LastRequestID    uint64 `msgpack:"last_request_id"`
	PendingRequestID uint64 `msgpack:"pending_request_id"`
}

// View is the snapshot rendered by the page.
type View struct {
	FileName       string `json:"file_name,omitempty"`
	PreviewVersion uint64 `json:"preview_version,omitempty"`
	PreviewURL     string `json:"preview_url,omitempty"`
	Message        string `json:"message"`
	Loading        bool   `json:"loading"`
	DragActive     bool   `json:"drag_active"`
	CanCheck       bool   `json:"can_check"`
	RequestID      uint64 `json:"request_id,omitempty"`
}

// New returns the state of a session that has not done anything yet.
func New() *State {
	return &State{}
}

// HasPreview reports whether a preview reference is currently valid.
func (s *State) HasPreview() bool {
	return s.File != nil && s.PreviewVersion > 0
}

// Select accepts the first file of a picker selection. An empty list leaves
// the state untouched and returns false.
func (s *State) Select(files []File) bool {
	if len(files) == 0 {
		return false
	}
	f := files[0]
	s.File = &f
	s.PreviewVersion++
	s.Message = ""
	return true
}

// Drop ends the drag gesture and then behaves like Select.
func (s *State) Drop(files []File) bool {
	s.DragActive = false
	return s.Select(files)
}

// DragEnter marks the drop target as active.
func (s *State) DragEnter() { s.DragActive = true }

// DragOver marks the drop target as active.
func (s *State) DragOver() { s.DragActive = true }

// DragLeave clears the drop target highlight.
func (s *State) DragLeave() { s.DragActive = false }

// BeginCheck starts the check action. Without a selected file it sets the
// select prompt and returns ok=false; loading is never shown in that case.
// Otherwise it issues a new request ID, marks it pending and sets Loading.
func (s *State) BeginCheck() (requestID uint64, ok bool) {
	if s.File == nil {
		s.Message = MessageNoFile
		s.Loading = false
		return 0, false
	}
	s.LastRequestID++
	s.PendingRequestID = s.LastRequestID
	s.Loading = true
	return s.PendingRequestID, true
}

// CompleteCheck records the outcome of request requestID. Outcomes of
// superseded requests are dropped and false is returned.
func (s *State) CompleteCheck(requestID uint64, message string) bool {
	if requestID == 0 || requestID != s.PendingRequestID {
		return false
	}
	s.Message = message
	s.Loading = false
	s.PendingRequestID = 0
	return true
}

// View returns the render snapshot of s.
func (s *State) View() View {
	v := View{
		Message:    s.Message,
		Loading:    s.Loading,
		DragActive: s.DragActive,
		CanCheck:   s.File != nil,
		RequestID:  s.PendingRequestID,
	}
	if s.HasPreview() {
		v.FileName = s.File.Name
		v.PreviewVersion = s.PreviewVersion
	}
	return v
}

// Clone returns a copy of s that shares the immutable file bytes.
func (s *State) Clone() *State {
	c := *s
	if s.File != nil {
		f := *s.File
		c.File = &f
	}
	return &c
}
