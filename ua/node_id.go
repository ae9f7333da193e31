// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// IDType is the type of a NodeID identifier.
type IDType byte

// IDTypes
const (
	IDTypeNumeric IDType = iota
	IDTypeString
	IDTypeGUID
	IDTypeOpaque
)

// NodeID identifies a Node. NodeIDs are comparable with ==.
type NodeID struct {
	namespaceIndex uint16
	idType         IDType
	nid            uint32
	sid            string
	gid            uuid.UUID
	bid            string
}

// NilNodeID is the nil value.
var NilNodeID = NodeID{}

// NewNodeIDNumeric constructs a new NodeID of numeric type.
func NewNodeIDNumeric(namespaceIndex uint16, identifier uint32) NodeID {
	return NodeID{namespaceIndex: namespaceIndex, idType: IDTypeNumeric, nid: identifier}
}

// NewNodeIDString constructs a new NodeID of string type.
func NewNodeIDString(namespaceIndex uint16, identifier string) NodeID {
	return NodeID{namespaceIndex: namespaceIndex, idType: IDTypeString, sid: identifier}
}

// NewNodeIDGUID constructs a new NodeID of GUID type.
func NewNodeIDGUID(namespaceIndex uint16, identifier uuid.UUID) NodeID {
	return NodeID{namespaceIndex: namespaceIndex, idType: IDTypeGUID, gid: identifier}
}

// NewNodeIDOpaque constructs a new NodeID of opaque type.
func NewNodeIDOpaque(namespaceIndex uint16, identifier []byte) NodeID {
	return NodeID{namespaceIndex: namespaceIndex, idType: IDTypeOpaque, bid: string(identifier)}
}

// NamespaceIndex returns the namespace index.
func (n NodeID) NamespaceIndex() uint16 { return n.namespaceIndex }

// IDType returns the identifier type.
func (n NodeID) IDType() IDType { return n.idType }

// Numeric returns the identifier of a numeric NodeID in namespace 0,
// or false for any other NodeID.
func (n NodeID) Numeric() (uint32, bool) {
	if n.idType != IDTypeNumeric || n.namespaceIndex != 0 {
		return 0, false
	}
	return n.nid, true
}

// IsNil returns true if the nodeId is nil.
func (n NodeID) IsNil() bool {
	return n == NilNodeID
}

// String returns a string representation, e.g. "ns=2;s=Demo.Static".
func (n NodeID) String() string {
	var id string
	switch n.idType {
	case IDTypeNumeric:
		id = fmt.Sprintf("i=%d", n.nid)
	case IDTypeString:
		id = "s=" + n.sid
	case IDTypeGUID:
		id = "g=" + n.gid.String()
	case IDTypeOpaque:
		id = "b=" + base64.StdEncoding.EncodeToString([]byte(n.bid))
	}
	if n.namespaceIndex == 0 {
		return id
	}
	return fmt.Sprintf("ns=%d;%s", n.namespaceIndex, id)
}
