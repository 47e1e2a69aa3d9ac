// Package gmail sends plain text mail through the Gmail v1 API. It backs
// invitations and reminder delivery.
package gmail
