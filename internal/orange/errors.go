package orange

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// APIError is a failed call against the Orange API. The carrier answers with
// one of three envelope shapes; an unrecognized or empty body yields a
// generic HTTP-code-only error.
type APIError struct {
	HTTPCode    int
	Code        string
	Message     string
	Description string
}

func (e *APIError) Error() string {
	code := ""
	if e.Code != "" {
		code = " " + e.Code
	}
	return fmt.Sprintf("HTTP%d%s. %s: %s", e.HTTPCode, code, e.Message, e.Description)
}

// NewAPIError decodes a carrier error body. Envelope matchers run in fixed
// priority: requestError, standard {code,message,description}, OAuth
// {error,error_description}, then generic. First match wins.
func NewAPIError(httpCode int, body []byte) *APIError {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return GenericHTTPError(httpCode)
	}

	if raw, ok := resp["requestError"]; ok {
		if e := matchRequestError(httpCode, raw); e != nil {
			return e
		}
	}
	if _, ok := resp["code"]; ok {
		return matchStandardError(httpCode, body)
	}
	if _, ok := resp["error"]; ok {
		return matchOAuthError(httpCode, body)
	}
	return GenericHTTPError(httpCode)
}

func GenericHTTPError(httpCode int) *APIError {
	return &APIError{HTTPCode: httpCode}
}

// requestError wraps a named exception object carrying a messageId, a text
// with %N placeholders and the variables to substitute into them.
type requestErrorDetail struct {
	MessageID string          `json:"messageId"`
	Text      string          `json:"text"`
	Variables json.RawMessage `json:"variables"`
}

func matchRequestError(httpCode int, raw json.RawMessage) *APIError {
	var named map[string]requestErrorDetail
	if err := json.Unmarshal(raw, &named); err != nil || len(named) == 0 {
		return nil
	}

	var name string
	var detail requestErrorDetail
	for k, v := range named {
		name, detail = k, v
		break
	}

	return &APIError{
		HTTPCode:    httpCode,
		Code:        detail.MessageID,
		Message:     name,
		Description: verboseDescription(detail.Text, decodeVariables(detail.Variables)),
	}
}

func matchStandardError(httpCode int, body []byte) *APIError {
	var e struct {
		Code        json.Number `json:"code"`
		Message     string      `json:"message"`
		Description string      `json:"description"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return GenericHTTPError(httpCode)
	}
	return &APIError{
		HTTPCode:    httpCode,
		Code:        e.Code.String(),
		Message:     e.Message,
		Description: e.Description,
	}
}

func matchOAuthError(httpCode int, body []byte) *APIError {
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return GenericHTTPError(httpCode)
	}
	return &APIError{
		HTTPCode:    httpCode,
		Message:     e.Error,
		Description: e.ErrorDescription,
	}
}

func decodeVariables(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	return nil
}

var placeholderRe = regexp.MustCompile(`%[0-9]`)

// verboseDescription substitutes %N placeholders, in order of appearance,
// with the backquoted variables. Placeholders beyond the variable list are
// kept as-is.
func verboseDescription(text string, variables []string) string {
	i := 0
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		if i >= len(variables) {
			return m
		}
		v := "`" + variables[i] + "`"
		i++
		return v
	})
}
