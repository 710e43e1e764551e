// Package mailsrc yields RawMessages from a mail source: an IMAP mailbox
// searched by sender, or a local mbox archive for offline runs.
package mailsrc

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/pmehra/invoice-harvest/model"
)

const fallbackSubject = "No Subject"

// ParseRaw decodes a raw RFC 822 message into body parts and attachments.
// Decode problems on individual parts are tolerated: the message is
// returned with whatever could be recovered. Only a structurally unreadable
// message yields an error.
func ParseRaw(uid string, raw []byte) (model.RawMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return model.RawMessage{}, err
	}

	msg := model.RawMessage{UID: uid, Subject: fallbackSubject}

	if subject, err := mr.Header.Subject(); err == nil && subject != "" {
		msg.Subject = subject
	}
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.Sender = addrs[0].Address
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			// The remaining parts are unreadable; keep what we have.
			break
		}
		if part == nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, params, err := h.ContentType()
			if err != nil {
				continue
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			msg.Bodies = append(msg.Bodies, model.BodyPart{
				MediaType: strings.ToLower(mediaType),
				Charset:   params["charset"],
				Content:   content,
			})
		case *mail.AttachmentHeader:
			mediaType, _, err := h.ContentType()
			if err != nil {
				continue
			}
			filename, _ := h.Filename()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			msg.Attachments = append(msg.Attachments, model.AttachmentPart{
				MediaType: strings.ToLower(mediaType),
				Filename:  filename,
				Data:      data,
			})
		}
	}

	return msg, nil
}

// matchesSender reports whether the message's From address contains the
// configured sender, case-insensitively. An empty sender matches everything.
func matchesSender(msg model.RawMessage, sender string) bool {
	if sender == "" {
		return true
	}
	return strings.Contains(strings.ToLower(msg.Sender), strings.ToLower(sender))
}
