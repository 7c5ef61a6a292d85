package models

// MediaKind tells photos and videos apart
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// Extension returns the file extension used when staging media of this kind
func (k MediaKind) Extension() string {
	if k == MediaVideo {
		return ".mp4"
	}
	return ".jpg"
}

// Post is a resolved Instagram post
type Post struct {
	Shortcode string
	Owner     string
	Caption   string
	Items     []MediaItem
}

// MediaItem is a single downloadable asset of a post
type MediaItem struct {
	Kind MediaKind
	URL  string
}

// Attachment is a media item staged on local disk, ready for delivery
type Attachment struct {
	Kind    MediaKind
	Path    string
	Caption string
}

// Bundle is the staged media of one post. Release must be called once the
// attachments have been delivered or abandoned.
type Bundle struct {
	Attachments []Attachment
	release     func() error
}

// NewBundle creates a bundle whose Release calls release
func NewBundle(attachments []Attachment, release func() error) *Bundle {
	return &Bundle{Attachments: attachments, release: release}
}

// Release removes the staged files
func (b *Bundle) Release() error {
	if b == nil || b.release == nil {
		return nil
	}
	return b.release()
}
