package instagram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"

	errs "igrelay/pkg/errors"
)

const (
	// BaseURL is the base URL for Instagram
	BaseURL = "https://www.instagram.com"

	// GraphQLEndpoint is the endpoint for GraphQL queries
	GraphQLEndpoint = "/graphql/query/"

	// PostQueryHash is the query hash for fetching a single post by shortcode
	PostQueryHash = "b3055c01b4b222b8a47dc12b090e4e64"

	// AppID is the web application ID Instagram expects on API calls
	AppID = "936619743392459"
)

// LinkKind is the kind of Instagram page a link points to
type LinkKind string

const (
	LinkPost  LinkKind = "post"
	LinkReel  LinkKind = "reel"
	LinkTV    LinkKind = "tv"
	LinkStory LinkKind = "story"
)

// Link is an Instagram link found in a message
type Link struct {
	Kind      LinkKind
	Shortcode string
}

// ErrStoryLink is returned by ParseLink for story links, which have no shortcode
var ErrStoryLink = errs.New(errs.ErrorTypeInvalidInput, "story links are not supported")

var linkPattern = regexp.MustCompile(`https?://(?:www\.|m\.)?instagram\.com/(p|reels?|tv|stories)/([A-Za-z0-9_-]+)`)

// ParseLink extracts the first Instagram post, reel or IGTV link from text
func ParseLink(text string) (Link, error) {
	match := linkPattern.FindStringSubmatch(text)
	if match == nil {
		return Link{}, errs.New(errs.ErrorTypeInvalidInput, "no Instagram link found")
	}

	switch match[1] {
	case "p":
		return Link{Kind: LinkPost, Shortcode: match[2]}, nil
	case "reel", "reels":
		return Link{Kind: LinkReel, Shortcode: match[2]}, nil
	case "tv":
		return Link{Kind: LinkTV, Shortcode: match[2]}, nil
	default:
		return Link{Kind: LinkStory}, ErrStoryLink
	}
}

// buildPostQueryURL constructs the GraphQL URL for fetching a post by shortcode
func buildPostQueryURL(base, shortcode string) string {
	variables, _ := json.Marshal(map[string]string{"shortcode": shortcode})

	params := url.Values{}
	params.Set("query_hash", PostQueryHash)
	params.Set("variables", string(variables))

	return fmt.Sprintf("%s%s?%s", base, GraphQLEndpoint, params.Encode())
}

// GetPostURL constructs the public URL for a specific post
func GetPostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return fmt.Sprintf("%s/p/%s/", BaseURL, shortcode)
}
