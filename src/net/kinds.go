package net

import "fmt"

// MessageKind identifies the payload of a frame.
type MessageKind uint8

const (
	KindHello MessageKind = iota + 1
	KindHelloWithMetadata
	KindBye
	KindRelayData
	KindRelayFailed
	KindRelaySignature
	KindTransactionBroadcast
	KindGetTransaction
	KindPresenceUpdate
	KindPresenceKeepAlive
	KindPresenceQuery
	KindBalanceQuery
	KindBalanceResponse
	KindHeaderBatchRequest
	KindHeaderBatchResponse
	KindInclusionProofRequest
	KindInclusionProofResponse
	KindEventSubscribe
)

var kindNames = map[MessageKind]string{
	KindHello:                  "Hello",
	KindHelloWithMetadata:      "HelloWithMetadata",
	KindBye:                    "Bye",
	KindRelayData:              "RelayData",
	KindRelayFailed:            "RelayFailed",
	KindRelaySignature:         "RelaySignature",
	KindTransactionBroadcast:   "TransactionBroadcast",
	KindGetTransaction:         "GetTransaction",
	KindPresenceUpdate:         "PresenceUpdate",
	KindPresenceKeepAlive:      "PresenceKeepAlive",
	KindPresenceQuery:          "PresenceQuery",
	KindBalanceQuery:           "BalanceQuery",
	KindBalanceResponse:        "BalanceResponse",
	KindHeaderBatchRequest:     "HeaderBatchRequest",
	KindHeaderBatchResponse:    "HeaderBatchResponse",
	KindInclusionProofRequest:  "InclusionProofRequest",
	KindInclusionProofResponse: "InclusionProofResponse",
	KindEventSubscribe:         "EventSubscribe",
}

func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

// IsHandshake reports whether the kind is allowed before a connection is
// authenticated.
func (k MessageKind) IsHandshake() bool {
	return k == KindHello || k == KindHelloWithMetadata || k == KindBye
}

// Message is a decoded frame.
type Message struct {
	Kind    MessageKind
	Payload []byte
}
