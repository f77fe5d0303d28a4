package push

import (
	"encoding/json"
	"strconv"

	"notifyd/internal/notification"
)

type alert struct {
	Title  string `json:"title,omitempty"`
	Body   string `json:"body"`
	Action string `json:"action,omitempty"`
}

type aps struct {
	Alert alert  `json:"alert"`
	Sound string `json:"sound,omitempty"`
	Badge *int   `json:"badge,omitempty"`
}

type apnsMessage struct {
	APS  aps               `json:"aps"`
	Data map[string]string `json:"data,omitempty"`
}

type gcmMessage struct {
	Notification alert             `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// payloadData is the routing info the clients use to deep-link a notification.
func payloadData(env notification.Envelope) map[string]string {
	d := map[string]string{
		"type":    string(env.Event.Type),
		"user_id": strconv.FormatInt(env.UserID, 10),
	}
	if env.Event.EntityID > 0 {
		d["entity_id"] = strconv.FormatInt(env.Event.EntityID, 10)
	}
	if env.Event.InitiatorID > 0 {
		d["initiator"] = strconv.FormatInt(env.Event.InitiatorID, 10)
	}
	return d
}

// snsMessage builds the MessageStructure=json body for one platform key
// (APNS, APNS_SANDBOX or GCM). SNS requires the per-platform value to be a string.
func snsMessage(platform string, inner any) (string, error) {
	b, err := json.Marshal(inner)
	if err != nil {
		return "", err
	}
	outer := map[string]string{
		"default": "",
		platform:  string(b),
	}
	if body, ok := inner.(interface{ body() string }); ok {
		outer["default"] = body.body()
	}
	out, err := json.Marshal(outer)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (m apnsMessage) body() string { return m.APS.Alert.Body }
func (m gcmMessage) body() string  { return m.Notification.Body }

func mobileAPNS(env notification.Envelope, badge int, sound bool) apnsMessage {
	m := apnsMessage{
		APS:  aps{Alert: alert{Title: env.TitleOrEmpty(), Body: env.Message}},
		Data: payloadData(env),
	}
	if sound {
		m.APS.Sound = "default"
	}
	if badge > 0 {
		b := badge
		m.APS.Badge = &b
	}
	return m
}

func mobileGCM(env notification.Envelope) gcmMessage {
	return gcmMessage{
		Notification: alert{Title: env.TitleOrEmpty(), Body: env.Message},
		Data:         payloadData(env),
	}
}

// Safari web push requires url-args, even when empty.
type safariAPS struct {
	Alert   alert    `json:"alert"`
	URLArgs []string `json:"url-args"`
}

type safariMessage struct {
	APS safariAPS `json:"aps"`
}

func (m safariMessage) body() string { return m.APS.Alert.Body }

func safariAPNS(env notification.Envelope) safariMessage {
	return safariMessage{APS: safariAPS{
		Alert:   alert{Title: env.TitleOrEmpty(), Body: env.Message, Action: "View"},
		URLArgs: []string{},
	}}
}

// browserMessage is the JSON document delivered to the service worker.
type browserMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

func browserPayload(env notification.Envelope) ([]byte, error) {
	return json.Marshal(browserMessage{Title: env.TitleOrEmpty(), Body: env.Message, Data: payloadData(env)})
}
