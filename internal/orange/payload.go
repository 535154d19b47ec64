package orange

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sahelsms/orange-gateway/internal/model"
)

// ErrDecode marks a malformed inbound payload: a missing notification key or
// a missing required field. Decoding never substitutes silent defaults for
// required fields.
var ErrDecode = errors.New("malformed carrier payload")

// InboundKind discriminates the two webhook notification shapes.
type InboundKind int

const (
	InboundMO InboundKind = iota
	InboundDR
)

const (
	keyMONotification = "inboundSMSMessageNotification"
	keyDRNotification = "deliveryInfoNotification"
)

// DetectInbound inspects which notification key is present in a webhook body.
func DetectInbound(body []byte) (InboundKind, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, errors.Wrap(ErrDecode, err.Error())
	}
	if _, ok := envelope[keyMONotification]; ok {
		return InboundMO, nil
	}
	if _, ok := envelope[keyDRNotification]; ok {
		return InboundDR, nil
	}
	return 0, errors.Wrap(ErrDecode, "payload contains neither SMS-MO nor SMS-DR notification")
}

type outboundSMSTextMessage struct {
	Message string `json:"message"`
}

type outboundSMSMessageRequest struct {
	Address                string                 `json:"address"`
	OutboundSMSTextMessage outboundSMSTextMessage `json:"outboundSMSTextMessage"`
	SenderAddress          string                 `json:"senderAddress"`
	SenderName             string                 `json:"senderName,omitempty"`
	ResourceURL            string                 `json:"resourceURL,omitempty"`
}

type mtEnvelope struct {
	OutboundSMSMessageRequest outboundSMSMessageRequest `json:"outboundSMSMessageRequest"`
}

// EncodeMTRequest builds the carrier's outbound-SMS envelope. Addresses carry
// the tel: scheme the API expects; destAddr must already be normalized.
func EncodeMTRequest(destAddr, message, senderAddress, senderName string) ([]byte, error) {
	return json.Marshal(mtEnvelope{
		OutboundSMSMessageRequest: outboundSMSMessageRequest{
			Address:                "tel:" + destAddr,
			OutboundSMSTextMessage: outboundSMSTextMessage{Message: message},
			SenderAddress:          "tel:" + senderAddress,
			SenderName:             senderName,
		},
	})
}

// DecodeMTResponse extracts the reference code from a successful submission
// response: the trailing path segment of the resourceURL. An absent or empty
// segment is a decode failure.
func DecodeMTResponse(body []byte) (string, error) {
	var resp mtEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(ErrDecode, err.Error())
	}
	u := resp.OutboundSMSMessageRequest.ResourceURL
	if u == "" {
		return "", errors.Wrap(ErrDecode, "submission response carries no resourceURL")
	}
	ref := u[strings.LastIndex(u, "/")+1:]
	if ref == "" {
		return "", errors.Wrap(ErrDecode, "resourceURL has an empty reference segment")
	}
	return ref, nil
}

// MOFields is a decoded inbound-SMS notification.
type MOFields struct {
	SenderAddress      string
	DestinationAddress string
	CarrierMessageID   string
	Content            string
	ReceivedAt         time.Time
}

// DecodeMONotification decodes an SMS-MO webhook body.
func DecodeMONotification(body []byte) (*MOFields, error) {
	var envelope struct {
		Notification struct {
			InboundSMSMessage struct {
				SenderAddress      string `json:"senderAddress"`
				DestinationAddress string `json:"destinationAddress"`
				MessageID          string `json:"messageId"`
				Message            string `json:"message"`
				DateTime           string `json:"dateTime"`
			} `json:"inboundSMSMessage"`
		} `json:"inboundSMSMessageNotification"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}

	in := envelope.Notification.InboundSMSMessage
	if in.SenderAddress == "" {
		return nil, errors.Wrap(ErrDecode, "SMS-MO notification misses senderAddress")
	}
	receivedAt, err := parseISO8601(in.DateTime)
	if err != nil {
		return nil, errors.Wrap(ErrDecode, "SMS-MO notification carries unparseable dateTime "+in.DateTime)
	}

	return &MOFields{
		SenderAddress:      cleanAddress(in.SenderAddress),
		DestinationAddress: cleanAddress(in.DestinationAddress),
		CarrierMessageID:   in.MessageID,
		Content:            in.Message,
		ReceivedAt:         receivedAt,
	}, nil
}

// DRFields is a decoded delivery-receipt notification. Status already went
// through the delivery-status matrix.
type DRFields struct {
	ReferenceCode string
	DeliveredAt   time.Time
	Status        model.Status
}

// DecodeDRNotification decodes an SMS-DR webhook body. The delivery
// timestamp defaults to now when the carrier omits it; an unknown
// deliveryStatus maps to not_delivered per the matrix.
func DecodeDRNotification(body []byte) (*DRFields, error) {
	var envelope struct {
		Notification struct {
			CallbackData string `json:"callbackData"`
			DeliveryTime string `json:"deliveryTime"`
			DeliveryInfo struct {
				DeliveryStatus string `json:"deliveryStatus"`
			} `json:"deliveryInfo"`
		} `json:"deliveryInfoNotification"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}

	n := envelope.Notification
	if n.CallbackData == "" {
		return nil, errors.Wrap(ErrDecode, "SMS-DR notification misses callbackData")
	}

	deliveredAt := time.Now().UTC()
	if n.DeliveryTime != "" {
		if t, err := parseISO8601(n.DeliveryTime); err == nil {
			deliveredAt = t
		}
	}

	return &DRFields{
		ReferenceCode: n.CallbackData,
		DeliveredAt:   deliveredAt,
		Status:        model.MapDeliveryStatus(n.DeliveryInfo.DeliveryStatus),
	}, nil
}

func cleanAddress(addr string) string {
	return strings.TrimPrefix(addr, "tel:")
}

var iso8601Layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseISO8601(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range iso8601Layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
