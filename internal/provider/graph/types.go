package graph

import (
	"github.com/shineum/form-relay/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message sendMailMessage `json:"message"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject      string      `json:"subject"`
	Body         messageBody `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
	ReplyTo      []recipient `json:"replyTo,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an envelope into a Graph API sendMail request
// body. The mailbox in the request URL is the sender; From is not set here.
func buildSendMailRequest(env *email.Envelope) *sendMailRequest {
	return &sendMailRequest{
		Message: sendMailMessage{
			Subject: env.Subject,
			Body: messageBody{
				ContentType: "text",
				Content:     env.Body,
			},
			ToRecipients: []recipient{
				{EmailAddress: emailAddress{Address: env.To}},
			},
			ReplyTo: []recipient{
				{EmailAddress: emailAddress{Address: env.ReplyAddress()}},
			},
		},
	}
}
