// Package fetcher pulls new emails from Gmail, either over the Gmail
// REST API or over IMAP, and converts them into the engine's message
// shape with received timestamps in the engine timezone.
package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"email-event-digest/internal/config"
	"email-event-digest/internal/models"
)

// EmailFetcher interface for fetching emails
type EmailFetcher interface {
	FetchNewEmails(ctx context.Context) ([]models.EmailMessage, error)
	Close() error
}

var htmlTagRe = regexp.MustCompile(`(?s)<[^>]+>`)

// GmailAPIFetcher implements EmailFetcher using the Gmail API
type GmailAPIFetcher struct {
	service   *gmail.Service
	userEmail string
	loc       *time.Location
	lastCheck time.Time
}

// IMAPFetcher implements EmailFetcher using IMAP
type IMAPFetcher struct {
	client    *client.Client
	loc       *time.Location
	lastCheck time.Time
}

// NewGmailAPIFetcher creates a new Gmail API fetcher
func NewGmailAPIFetcher(cfg *config.GmailConfig, loc *time.Location) (*GmailAPIFetcher, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailAPIFetcher{
		service:   service,
		userEmail: cfg.UserEmail,
		loc:       loc,
		lastCheck: time.Now().AddDate(0, 0, -cfg.WindowDays),
	}, nil
}

// NewIMAPFetcher creates a new IMAP fetcher
func NewIMAPFetcher(cfg *config.GmailConfig, loc *time.Location) (*IMAPFetcher, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPFetcher{
		client:    c,
		loc:       loc,
		lastCheck: time.Now().AddDate(0, 0, -cfg.WindowDays),
	}, nil
}

// FetchNewEmails fetches new emails using the Gmail API
func (f *GmailAPIFetcher) FetchNewEmails(ctx context.Context) ([]models.EmailMessage, error) {
	query := fmt.Sprintf("after:%d", f.lastCheck.Unix())

	call := f.service.Users.Messages.List(f.userEmail).Q(query)
	response, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var emails []models.EmailMessage

	for _, msg := range response.Messages {
		full, err := f.service.Users.Messages.Get(f.userEmail, msg.Id).Format("full").Context(ctx).Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", msg.Id, err)
			continue
		}

		email, err := f.parseGmailMessage(full)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", msg.Id, err)
			continue
		}

		emails = append(emails, email)
	}

	f.lastCheck = time.Now()
	return emails, nil
}

// parseGmailMessage parses a Gmail API message into the engine's shape
func (f *GmailAPIFetcher) parseGmailMessage(msg *gmail.Message) (models.EmailMessage, error) {
	email := models.EmailMessage{
		ID:         msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate).In(f.loc),
		Headers:    make(map[string]string),
	}

	for _, header := range msg.Payload.Headers {
		email.Headers[header.Name] = header.Value

		switch header.Name {
		case "Subject":
			email.Subject = header.Value
		case "From":
			email.From = header.Value
		}
	}

	var plain, html string
	collectGmailBody(msg.Payload, &plain, &html)
	email.Body = preferPlain(plain, html)

	return email, nil
}

// collectGmailBody recursively walks Gmail message body parts
func collectGmailBody(part *gmail.MessagePart, plain, html *string) {
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				*plain = string(data)
			case "text/html":
				*html = string(data)
			}
		}
	}

	for _, subPart := range part.Parts {
		collectGmailBody(subPart, plain, html)
	}
}

// Close closes the Gmail API fetcher
func (f *GmailAPIFetcher) Close() error {
	// Gmail API service doesn't need explicit closing
	return nil
}

// FetchNewEmails fetches new emails using IMAP
func (f *IMAPFetcher) FetchNewEmails(ctx context.Context) ([]models.EmailMessage, error) {
	_, err := f.client.Select("INBOX", false)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = f.lastCheck

	uids, err := f.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(uids) == 0 {
		f.lastCheck = time.Now()
		return []models.EmailMessage{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- f.client.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchBody, imap.FetchUid}, messages)
	}()

	var emails []models.EmailMessage

	for msg := range messages {
		email, err := f.parseIMAPMessage(msg)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	f.lastCheck = time.Now()
	return emails, nil
}

// parseIMAPMessage parses an IMAP message into the engine's shape
func (f *IMAPFetcher) parseIMAPMessage(msg *imap.Message) (models.EmailMessage, error) {
	email := models.EmailMessage{
		ID:         fmt.Sprintf("imap-%d", msg.Uid),
		ReceivedAt: time.Now().In(f.loc),
		Headers:    make(map[string]string),
	}

	if msg.Envelope != nil {
		email.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			email.From = msg.Envelope.From[0].Address()
		}
		if msg.Envelope.MessageId != "" {
			email.ID = msg.Envelope.MessageId
		}
		if !msg.Envelope.Date.IsZero() {
			email.ReceivedAt = msg.Envelope.Date.In(f.loc)
		}
	}

	if err := f.parseIMAPBody(msg, &email); err != nil {
		return email, err
	}

	return email, nil
}

// parseIMAPBody parses the IMAP message body
func (f *IMAPFetcher) parseIMAPBody(msg *imap.Message, email *models.EmailMessage) error {
	if msg.Body == nil {
		return nil
	}

	section := &imap.BodySectionName{}
	r := msg.GetBody(section)
	if r == nil {
		return fmt.Errorf("failed to get message body")
	}

	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	var plain, html string

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				plain = string(content)
			} else if strings.Contains(contentType, "text/html") {
				html = string(content)
			}
		}
	} else {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return fmt.Errorf("failed to read message body: %w", err)
		}

		contentType := entity.Header.Get("Content-Type")
		if strings.Contains(contentType, "text/html") {
			html = string(content)
		} else {
			plain = string(content)
		}
	}

	email.Body = preferPlain(plain, html)
	return nil
}

// preferPlain returns the plain-text body, falling back to a tag-stripped
// rendition of the HTML part when no plain part exists.
func preferPlain(plain, html string) string {
	if strings.TrimSpace(plain) != "" {
		return plain
	}
	return htmlTagRe.ReplaceAllString(html, " ")
}

// Close closes the IMAP fetcher
func (f *IMAPFetcher) Close() error {
	return f.client.Logout()
}
