package mail

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gopkg.in/gomail.v2"
)

const (
	DefaultContentType = "text/plain"
	DefaultCharset     = "utf-8"
)

var addressValidator = validator.New()

// Address is a mailbox with an optional display name.
type Address struct {
	Address string `json:"address" yaml:"address"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Message is the mail being composed. Address lists keep call order and are
// never deduplicated.
type Message struct {
	Subject     string    `json:"subject" yaml:"subject"`
	Body        string    `json:"body" yaml:"body"`
	ContentType string    `json:"contentType" yaml:"contentType"`
	Charset     string    `json:"charset" yaml:"charset"`
	From        []Address `json:"from,omitempty" yaml:"from,omitempty"`
	To          []Address `json:"to,omitempty" yaml:"to,omitempty"`
	Cc          []Address `json:"cc,omitempty" yaml:"cc,omitempty"`
	Bcc         []Address `json:"bcc,omitempty" yaml:"bcc,omitempty"`
	ReplyTo     []Address `json:"replyTo,omitempty" yaml:"replyTo,omitempty"`
	Attachments []string  `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

func newMessage(from Address) *Message {
	return &Message{
		ContentType: DefaultContentType,
		Charset:     DefaultCharset,
		From:        []Address{from},
	}
}

func (m *Message) clone() Message {
	c := *m
	c.From = slices.Clone(m.From)
	c.To = slices.Clone(m.To)
	c.Cc = slices.Clone(m.Cc)
	c.Bcc = slices.Clone(m.Bcc)
	c.ReplyTo = slices.Clone(m.ReplyTo)
	c.Attachments = slices.Clone(m.Attachments)
	return c
}

// Recipients returns To, Cc and Bcc in that order.
func (m *Message) Recipients() []Address {
	return slices.Concat(m.To, m.Cc, m.Bcc)
}

func parseAddress(header, address, name string) (Address, error) {
	if err := addressValidator.Var(address, "required,email"); err != nil {
		return Address{}, &AddressFormatError{Header: header, Address: address, Err: err}
	}
	return Address{Address: address, Name: name}, nil
}

// toGomail builds the wire message. Charset applies to the headers and the body part.
func (m *Message) toGomail() *gomail.Message {
	gm := gomail.NewMessage(gomail.SetCharset(m.Charset))
	setAddressHeader(gm, "From", m.From)
	setAddressHeader(gm, "To", m.To)
	setAddressHeader(gm, "Cc", m.Cc)
	setAddressHeader(gm, "Bcc", m.Bcc)
	setAddressHeader(gm, "Reply-To", m.ReplyTo)
	gm.SetHeader("Subject", m.Subject)
	gm.SetHeader("Message-ID", m.newMessageID())
	gm.SetBody(m.ContentType, m.Body)
	for _, path := range m.Attachments {
		gm.Attach(path)
	}
	return gm
}

func setAddressHeader(gm *gomail.Message, header string, addresses []Address) {
	if len(addresses) == 0 {
		return
	}
	gm.SetHeader(header, lo.Map(addresses, func(a Address, _ int) string {
		return gm.FormatAddress(a.Address, a.Name)
	})...)
}

func (m *Message) newMessageID() string {
	domain := "localhost"
	if len(m.From) > 0 {
		if at := strings.LastIndex(m.From[0].Address, "@"); at >= 0 {
			domain = m.From[0].Address[at+1:]
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
