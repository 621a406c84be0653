// Package mime parses inbound mail payloads into the internal message
// form used by delivery and storage. Parsing walks the MIME tree depth
// first, folds displayable text parts into plain and HTML bodies, and
// registers everything else as addressable parts with dotted IDs.
package mime

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// HeaderSpamFlag is the upstream filter verdict header captured as a
// minor header during parsing.
const HeaderSpamFlag = "X-Spam-Flag"

// placeholderText replaces text content whose transfer encoding cannot
// be decoded at all.
const placeholderText = "Unknown Encoding. Unable to display message contents."

// Parser turns raw RFC 5322 payloads into Messages. Safe for concurrent
// use.
type Parser struct {
	cfg    Config
	logger *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used for parse diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Parser with the given configuration.
func New(cfg Config, opts ...Option) *Parser {
	p := &Parser{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads one message from r. The returned Message cannot re-open
// part content streams; use ParseSource when that is needed.
func (p *Parser) Parse(r io.Reader) (*Message, error) {
	return p.parse(r, nil)
}

// ParseSource parses the payload behind src and retains src on the
// returned Message so individual part streams can be re-opened later.
func (p *Parser) ParseSource(src Source) (*Message, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open payload: %v", ErrParse, err)
	}
	defer rc.Close()
	return p.parse(rc, src)
}

func (p *Parser) parse(r io.Reader, src Source) (*Message, error) {
	ent, rerr := message.Read(r)
	if rerr != nil && !recoverable(rerr) {
		return nil, fmt.Errorf("%w: %v", ErrParse, rerr)
	}

	msg := newMessage(p.cfg)
	msg.src = src
	if err := p.parseEnvelopeHeader(ent.Header, msg); err != nil {
		return nil, err
	}

	var text, html strings.Builder
	if err := p.walk(ent, "", rerr, msg, &text, &html); err != nil {
		return nil, err
	}
	msg.PlainBody = text.String()
	msg.HTMLBody = html.String()
	return msg, nil
}

func (p *Parser) parseEnvelopeHeader(h message.Header, msg *Message) error {
	mh := mail.Header{Header: h}

	var err error
	if msg.From, err = p.addresses(mh, "From"); err != nil {
		return err
	}
	if msg.To, err = p.addresses(mh, "To"); err != nil {
		return err
	}
	if msg.Cc, err = p.addresses(mh, "Cc"); err != nil {
		return err
	}
	if msg.Bcc, err = p.addresses(mh, "Bcc"); err != nil {
		return err
	}

	if subject, err := mh.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = h.Get("Subject")
	}
	if date, err := mh.Date(); err == nil {
		msg.Date = date
	}
	if id, err := mh.MessageID(); err == nil {
		msg.MessageID = id
	} else {
		msg.MessageID = strings.Trim(h.Get("Message-Id"), "<> ")
	}
	msg.AddMinorHeader(HeaderSpamFlag, h.Get(HeaderSpamFlag))
	return nil
}

func (p *Parser) addresses(h mail.Header, key string) (AddressList, error) {
	raw := h.Get(key)
	if raw == "" {
		return nil, nil
	}
	list, err := h.AddressList(key)
	if err != nil {
		if p.cfg.StrictAddresses {
			return nil, fmt.Errorf("%w: header %s: %v", ErrParse, key, err)
		}
		p.logger.Debug("keeping unparsable address header verbatim",
			"header", key, "error", err)
		return AddressList{{Email: raw}}, nil
	}
	out := make(AddressList, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: a.Name, Email: a.Address})
	}
	return out, nil
}

// walk processes one entity of the MIME tree. partID is the entity's
// dotted path, empty for the root. readErr carries the recoverable
// charset or encoding error reported when the entity was constructed.
func (p *Parser) walk(ent *message.Entity, partID string, readErr error, msg *Message, text, html *strings.Builder) error {
	ctype, ctParams, err := ent.Header.ContentType()
	if err != nil {
		if p.cfg.StrictParameters {
			return fmt.Errorf("%w: part %s: content type: %v", ErrParse, displayID(partID), err)
		}
		ctype, ctParams = "text/plain", nil
	}

	if mr := ent.MultipartReader(); mr != nil {
		for i := 1; ; i++ {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			var childErr error
			if err != nil {
				if !recoverable(err) {
					return fmt.Errorf("%w: part %s: %v", ErrParse, childID(partID, i), err)
				}
				childErr = err
			}
			if err := p.walk(child, childID(partID, i), childErr, msg, text, html); err != nil {
				return err
			}
		}
	}

	disp, dispParams, err := p.disposition(ent.Header)
	if err != nil {
		return fmt.Errorf("%w: part %s: %v", ErrParse, displayID(partID), err)
	}

	if strings.HasPrefix(ctype, "text/") && disp != "attachment" {
		if readErr != nil && message.IsUnknownEncoding(readErr) {
			p.logger.Debug("replacing undecodable text part with placeholder",
				"part", displayID(partID), "error", readErr)
			text.WriteString(placeholderText)
			return nil
		}
		b, err := io.ReadAll(ent.Body)
		if err != nil {
			return fmt.Errorf("%w: part %s: read body: %v", ErrParse, displayID(partID), err)
		}
		s := string(b)
		if readErr != nil && message.IsUnknownCharset(readErr) {
			p.logger.Debug("decoding unknown charset as latin-1",
				"part", displayID(partID), "error", readErr)
			s = latin1String(b)
		}
		if ctype == "text/html" {
			html.WriteString(s)
		} else {
			text.WriteString(s)
		}
		return nil
	}

	part := &Part{
		ID:          partID,
		ContentType: ctype,
		ContentID:   strings.Trim(ent.Header.Get("Content-Id"), "<> "),
		Disposition: disp,
		Filename:    dispParams["filename"],
	}
	if part.Filename == "" {
		part.Filename = ctParams["name"]
	}
	n, err := io.Copy(io.Discard, ent.Body)
	if err != nil {
		return fmt.Errorf("%w: part %s: read content: %v", ErrParse, displayID(partID), err)
	}
	part.Size = n
	msg.addPart(part)
	return nil
}

// disposition parses the Content-Disposition header. An absent header
// yields an empty disposition; an unparsable one is treated as an
// attachment unless strict parameter checking is on.
func (p *Parser) disposition(h message.Header) (string, map[string]string, error) {
	if h.Get("Content-Disposition") == "" {
		return "", nil, nil
	}
	disp, params, err := h.ContentDisposition()
	if err != nil {
		if p.cfg.StrictParameters {
			return "", nil, fmt.Errorf("content disposition: %v", err)
		}
		return "attachment", nil, nil
	}
	return disp, params, nil
}

// PartReader re-opens the content stream of a registered part.
// The message must have been parsed with ParseSource.
func (m *Message) PartReader(partID string) (io.ReadCloser, error) {
	if _, err := m.Part(partID); err != nil {
		return nil, err
	}
	return m.openPart(partID)
}

// ContentIDReader re-opens the content stream of the part with the
// given Content-ID. Angle brackets around the ID are ignored.
func (m *Message) ContentIDReader(contentID string) (io.ReadCloser, error) {
	part, err := m.PartByContentID(contentID)
	if err != nil {
		return nil, err
	}
	return m.openPart(part.ID)
}

func (m *Message) openPart(partID string) (io.ReadCloser, error) {
	if m.src == nil {
		return nil, ErrNoSource
	}
	rc, err := m.src.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open payload: %v", ErrParse, err)
	}
	ent, err := message.Read(rc)
	if err != nil && !recoverable(err) {
		rc.Close()
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if partID != "" {
		for _, seg := range strings.Split(partID, ".") {
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 1 {
				rc.Close()
				return nil, fmt.Errorf("%w: bad part id %q", ErrPartNotFound, partID)
			}
			if ent, err = descend(ent, idx); err != nil {
				rc.Close()
				return nil, err
			}
		}
	}
	return &partReadCloser{r: ent.Body, c: rc}, nil
}

func descend(ent *message.Entity, idx int) (*message.Entity, error) {
	mr := ent.MultipartReader()
	if mr == nil {
		return nil, fmt.Errorf("%w: payload is no longer multipart", ErrParse)
	}
	for i := 1; ; i++ {
		child, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: payload has fewer parts than expected", ErrPartNotFound)
		}
		if err != nil && !recoverable(err) {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if i == idx {
			return child, nil
		}
	}
}

type partReadCloser struct {
	r io.Reader
	c io.Closer
}

func (p *partReadCloser) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *partReadCloser) Close() error               { return p.c.Close() }

func recoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// latin1String decodes b as ISO-8859-1, mapping each byte to the rune
// with the same value.
func latin1String(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func childID(parent string, i int) string {
	if parent == "" {
		return strconv.Itoa(i)
	}
	return parent + "." + strconv.Itoa(i)
}

func displayID(id string) string {
	if id == "" {
		return "root"
	}
	return id
}
