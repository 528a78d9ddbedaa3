// ABOUTME: Contact search, creation, and listing against the Chatwoot API.
// ABOUTME: Creation reports identifier conflicts as an explicit outcome.

package chatwoot

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Contact is a platform contact record.
type Contact struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// NewContact is the body for contact creation.
type NewContact struct {
	Name       string         `json:"name"`
	Identifier string         `json:"identifier"`
	Attributes map[string]any `json:"additional_attributes,omitempty"`
}

// CreateOutcome distinguishes the ways contact creation can end.
type CreateOutcome int

const (
	CreateFailed CreateOutcome = iota
	Created
	// CreateConflict means another writer already registered the identifier.
	CreateConflict
)

func (o CreateOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case CreateConflict:
		return "conflict"
	default:
		return "failed"
	}
}

// SearchContacts runs a free-text contact search.
func (c *Client) SearchContacts(ctx context.Context, q string) ([]Contact, error) {
	data, err := c.do(ctx, http.MethodGet, "contacts/search", url.Values{"q": {q}}, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Contact](data)
}

// ListContacts returns one page of the account's contacts, starting at page 1.
func (c *Client) ListContacts(ctx context.Context, page int) ([]Contact, error) {
	if page < 1 {
		page = 1
	}
	data, err := c.do(ctx, http.MethodGet, "contacts", url.Values{"page": {strconv.Itoa(page)}}, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Contact](data)
}

// CreateContact registers a contact in the client's inbox.
// An identifier collision yields CreateConflict with a nil error.
func (c *Client) CreateContact(ctx context.Context, nc NewContact) (CreateOutcome, Contact, error) {
	body := struct {
		InboxID int64 `json:"inbox_id"`
		NewContact
	}{InboxID: c.inboxID, NewContact: nc}

	data, err := c.do(ctx, http.MethodPost, "contacts", nil, body)
	if err != nil {
		if isIdentifierConflict(err) {
			return CreateConflict, Contact{}, nil
		}
		return CreateFailed, Contact{}, err
	}

	contact, err := decodeObject[Contact](data, "contact")
	if err != nil {
		return CreateFailed, Contact{}, err
	}
	return Created, contact, nil
}

func isIdentifierConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Body), "already been taken")
}
