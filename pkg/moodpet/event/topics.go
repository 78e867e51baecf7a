package event

import "time"

// Canonical topics. The control flow is:
//
//	transport -> inbound.message -> dedup -> inbound.accepted -> router
//	router -> {checkin.save | export.request | delete.request | outbound.message}
//	checkin_writer -> {checkin.saved | checkin.rejected}
//	scheduler -> ping.request
//	pet_render -> pet.rendered
//	{exporter, deleter} -> {export.ready | delete.done}
//	notifier -> outbound.message -> transport
const (
	TopicInbound         = "inbound.message"
	TopicInboundAccepted = "inbound.accepted"
	TopicCheckinSave     = "checkin.save"
	TopicCheckinSaved    = "checkin.saved"
	TopicCheckinRejected = "checkin.rejected"
	TopicPingRequest     = "ping.request"
	TopicPetRendered     = "pet.rendered"
	TopicExportRequest   = "export.request"
	TopicExportReady     = "export.ready"
	TopicDeleteRequest   = "delete.request"
	TopicDeleteDone      = "delete.done"
	TopicOutbound        = "outbound.message"
	TopicDeadLetter      = "deadletter"
)

// InboundMessage is the payload of inbound.message and inbound.accepted.
// Created at ingress, consumed exactly once by dedup and router, then
// discarded - the pipeline never persists it.
type InboundMessage struct {
	PseudoID           string    `json:"pseudo_id"`
	TransportMessageID string    `json:"transport_message_id"`
	Text               string    `json:"text,omitempty"`
	ButtonPayload      string    `json:"button_payload,omitempty"`
	ReceivedAt         time.Time `json:"received_at"`
}

// CheckinSave is the payload of checkin.save.
type CheckinSave struct {
	PseudoID string    `json:"pseudo_id"`
	Mood     int       `json:"mood"`
	Comment  string    `json:"comment,omitempty"`
	At       time.Time `json:"at"`
}

// CheckinSaved is the payload of checkin.saved.
type CheckinSaved struct {
	PseudoID  string    `json:"pseudo_id"`
	Timestamp time.Time `json:"timestamp"`
	Mood      int       `json:"mood"`
}

// CheckinRejected is the payload of checkin.rejected. Emitted when a
// checkin.save fails validation; consumed by the notifier only.
type CheckinRejected struct {
	PseudoID string `json:"pseudo_id"`
	Reason   string `json:"reason"`
}

// PingRequest is the payload of ping.request, emitted by the scheduler.
type PingRequest struct {
	PseudoID string `json:"pseudo_id"`
}

// PetRendered is the payload of pet.rendered.
type PetRendered struct {
	PseudoID string `json:"pseudo_id"`
	StateID  string `json:"state_id"`
	Sprite   string `json:"sprite,omitempty"`
}

// ExportRequest is the payload of export.request.
type ExportRequest struct {
	PseudoID string `json:"pseudo_id"`
}

// ExportReady is the payload of export.ready.
type ExportReady struct {
	PseudoID         string `json:"pseudo_id"`
	ArtifactLocation string `json:"artifact_location"`
	RecordCount      int    `json:"record_count"`
}

// DeleteRequest is the payload of delete.request.
type DeleteRequest struct {
	PseudoID string `json:"pseudo_id"`
}

// DeleteDone is the payload of delete.done.
type DeleteDone struct {
	PseudoID      string `json:"pseudo_id"`
	RecordsErased int    `json:"records_erased"`
}

// OutboundMessage is the payload of outbound.message, consumed by the
// transport adapter.
type OutboundMessage struct {
	PseudoID   string   `json:"pseudo_id"`
	Text       string   `json:"text,omitempty"`
	Attachment string   `json:"attachment,omitempty"`
	Buttons    []Button `json:"buttons,omitempty"`
}

// Button describes an inline reply button offered to the user.
type Button struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}
