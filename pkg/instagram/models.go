package instagram

import (
	errs "igrelay/pkg/errors"
	"igrelay/pkg/models"
)

// Typenames reported by the GraphQL API
const (
	TypeImage   = "GraphImage"
	TypeVideo   = "GraphVideo"
	TypeSidecar = "GraphSidecar"
)

// PostResponse represents the top-level response of the post query
type PostResponse struct {
	RequiresToLogin bool     `json:"requires_to_login"`
	Data            PostData `json:"data"`
	Status          string   `json:"status"`
}

// PostData wraps the post in the response
type PostData struct {
	ShortcodeMedia *ShortcodeMedia `json:"shortcode_media"`
}

// ShortcodeMedia represents a post as returned by the post query
type ShortcodeMedia struct {
	Typename              string                 `json:"__typename"`
	ID                    string                 `json:"id"`
	Shortcode             string                 `json:"shortcode"`
	DisplayURL            string                 `json:"display_url"`
	VideoURL              string                 `json:"video_url"`
	IsVideo               bool                   `json:"is_video"`
	Owner                 Owner                  `json:"owner"`
	EdgeMediaToCaption    EdgeMediaToCaption     `json:"edge_media_to_caption"`
	EdgeSidecarToChildren *EdgeSidecarToChildren `json:"edge_sidecar_to_children,omitempty"`
}

// Owner is the account that published the post
type Owner struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// EdgeMediaToCaption holds the post caption
type EdgeMediaToCaption struct {
	Edges []CaptionEdge `json:"edges"`
}

// CaptionEdge wraps a caption node
type CaptionEdge struct {
	Node struct {
		Text string `json:"text"`
	} `json:"node"`
}

// EdgeSidecarToChildren holds the items of a carousel
type EdgeSidecarToChildren struct {
	Edges []SidecarEdge `json:"edges"`
}

// SidecarEdge wraps a single carousel item
type SidecarEdge struct {
	Node SidecarNode `json:"node"`
}

// SidecarNode represents a carousel item (photo or video)
type SidecarNode struct {
	Typename   string `json:"__typename"`
	ID         string `json:"id"`
	DisplayURL string `json:"display_url"`
	VideoURL   string `json:"video_url"`
	IsVideo    bool   `json:"is_video"`
}

// Caption returns the post caption, or an empty string if there is none
func (m *ShortcodeMedia) Caption() string {
	if len(m.EdgeMediaToCaption.Edges) == 0 {
		return ""
	}
	return m.EdgeMediaToCaption.Edges[0].Node.Text
}

// ToPost converts the API representation into a models.Post
func (m *ShortcodeMedia) ToPost() (*models.Post, error) {
	post := &models.Post{
		Shortcode: m.Shortcode,
		Owner:     m.Owner.Username,
		Caption:   m.Caption(),
	}

	switch {
	case m.Typename == TypeSidecar && m.EdgeSidecarToChildren != nil:
		for _, edge := range m.EdgeSidecarToChildren.Edges {
			post.Items = append(post.Items, mediaItem(edge.Node.IsVideo, edge.Node.DisplayURL, edge.Node.VideoURL))
		}
	default:
		post.Items = append(post.Items, mediaItem(m.IsVideo || m.Typename == TypeVideo, m.DisplayURL, m.VideoURL))
	}

	if len(post.Items) == 0 {
		return nil, errs.New(errs.ErrorTypeParsing, "post %s has no media", m.Shortcode)
	}
	for i, item := range post.Items {
		if item.URL == "" {
			return nil, errs.New(errs.ErrorTypeParsing, "post %s item %d has no %s URL", m.Shortcode, i, item.Kind)
		}
	}

	return post, nil
}

func mediaItem(isVideo bool, displayURL, videoURL string) models.MediaItem {
	if isVideo {
		return models.MediaItem{Kind: models.MediaVideo, URL: videoURL}
	}
	return models.MediaItem{Kind: models.MediaPhoto, URL: displayURL}
}
