// Package status fetches the external status source and turns it into a
// categorical observation.
//
// A Provider returns (Code, Text) or an error. The HTTP provider combines:
//   - a fetch (timeout + body limit)
//   - an Extractor that pulls a status token and display text from the body
//   - a Keywords classifier that maps the token onto a Code
//
// Extractor shorthands:
//
//	html:<css selector>   first matching element; token = text of its first child
//	json:<dot.path>       value at path is both token and text
//	regex:<pattern>       first capture group is the token, full match is the text
//	http                  token derived from the HTTP status code
package status
