package model

import (
	"errors"
	"time"
	"unicode/utf8"
)

// Direction tells whether a message entered or left the platform.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// SMSType follows the carrier vocabulary: MO is handset-originated, MT is
// platform-originated, MTDR is an MT with a delivery receipt applied.
type SMSType string

const (
	TypeMO   SMSType = "sms-mo"
	TypeMT   SMSType = "sms-mt"
	TypeMTDR SMSType = "sms-mt+dr"
)

// Status is the lifecycle state of a message.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusFailedToSend Status = "failed_to_send"
	StatusReceived     Status = "received"
	StatusDelivered    Status = "delivered"
	StatusNotDelivered Status = "not_delivered"
)

// MaxContentLength is the carrier limit on message text.
const MaxContentLength = 1600

// deliveryStatusMatrix maps the carrier's deliveryStatus values onto message
// statuses. Values outside the table resolve to not_delivered.
var deliveryStatusMatrix = map[string]Status{
	"DeliveredToTerminal": StatusDelivered,
	"DeliveredToNetwork":  StatusDelivered, // not exactly but...
	"DeliveryUncertain":   StatusNotDelivered,
	"DeliveryImpossible":  StatusNotDelivered,
	"MessageWaiting":      StatusNotDelivered,
}

func MapDeliveryStatus(carrierStatus string) Status {
	if s, ok := deliveryStatusMatrix[carrierStatus]; ok {
		return s
	}
	return StatusNotDelivered
}

// DeliveryStatusValues lists the carrier statuses the matrix knows about.
func DeliveryStatusValues() []string {
	out := make([]string, 0, len(deliveryStatusMatrix))
	for k := range deliveryStatusMatrix {
		out = append(out, k)
	}
	return out
}

// Message is the single persistent entity of the gateway: one row per SMS-MO
// received or SMS-MT submitted, mutated only through status and reference
// updates.
type Message struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	SMSType   SMSType   `json:"sms_type"`

	CreatedAt        time.Time  `json:"created_at"`
	DeliveryStatusAt *time.Time `json:"delivery_status_at,omitempty"`

	SenderAddress      string `json:"sender_address"`
	DestinationAddress string `json:"destination_address"`

	// CarrierMessageID is set by the carrier on incoming messages only.
	CarrierMessageID string `json:"carrier_message_id,omitempty"`

	// ReferenceCode is the carrier resource reference for outgoing messages,
	// assigned only after a successful submission.
	ReferenceCode string `json:"reference_code,omitempty"`

	Content string `json:"content"`
	Status  Status `json:"status"`
}

// Identity is the counterparty address: the originator for incoming
// messages, the recipient for outgoing ones. Derived, never stored.
func (m *Message) Identity() string {
	if m.Direction == DirectionIncoming {
		return m.SenderAddress
	}
	return m.DestinationAddress
}

// SendRequest is the input for submitting an outgoing message.
type SendRequest struct {
	Destination string
	Content     string
	SenderName  string
}

var (
	ErrDestinationRequired = errors.New("destination is required")
	ErrContentRequired     = errors.New("content is required")
	ErrContentTooLong      = errors.New("message content exceeds maximum length")
)

func (r SendRequest) Validate() error {
	if r.Destination == "" {
		return ErrDestinationRequired
	}
	if r.Content == "" {
		return ErrContentRequired
	}
	if utf8.RuneCountInString(r.Content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// MessageFilter controls List queries.
type MessageFilter struct {
	Direction *Direction
	Statuses  []Status
	Identity  *string // matches sender or destination address
	From      *time.Time
	To        *time.Time
	Limit     int // default 50
	Offset    int
	Desc      bool // order by created_at
}
