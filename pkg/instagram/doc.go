// Package instagram resolves Instagram posts through the web GraphQL API and
// downloads their media.
//
// This package includes:
//   - ParseLink, which extracts a post, reel or IGTV shortcode from a message
//   - A Client that resolves a shortcode into a models.Post and downloads assets
//   - Response models for the post query
//
// Errors are *errors.Error values from igrelay/pkg/errors so callers can tell
// a private or missing post apart from network and server faults:
//
//	post, err := client.Resolve(ctx, link.Shortcode)
//	if errors.Is(err, errors.ErrorTypeNotFound) {
//	    // tell the user the post is gone
//	}
package instagram
