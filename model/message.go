package model

// BodyPart is one inline text part of a message.
type BodyPart struct {
	MediaType string
	Charset   string
	Content   []byte
}

// AttachmentPart is one attachment of a message with its raw payload.
type AttachmentPart struct {
	MediaType string
	Filename  string
	Data      []byte
}

// RawMessage represents a single email message as delivered by a mail source.
type RawMessage struct {
	UID         string
	Sender      string
	Subject     string
	Bodies      []BodyPart
	Attachments []AttachmentPart
}

// Envelope wraps a message alongside an optional error encountered while fetching or decoding.
type Envelope struct {
	Message RawMessage
	Err     error
}
