// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import "fmt"

// StatusCode is the result of a service or operation.
type StatusCode uint32

// StatusCodes used by the transport and secure conversation layers.
const (
	Good                            StatusCode = 0x00000000
	BadUnexpectedError              StatusCode = 0x80010000
	BadInternalError                StatusCode = 0x80020000
	BadOutOfMemory                  StatusCode = 0x80030000
	BadResourceUnavailable          StatusCode = 0x80040000
	BadCommunicationError           StatusCode = 0x80050000
	BadEncodingError                StatusCode = 0x80060000
	BadDecodingError                StatusCode = 0x80070000
	BadEncodingLimitsExceeded       StatusCode = 0x80080000
	BadUnknownResponse              StatusCode = 0x80090000
	BadTimeout                      StatusCode = 0x800A0000
	BadServiceUnsupported           StatusCode = 0x800B0000
	BadShutdown                     StatusCode = 0x800C0000
	BadServerNotConnected           StatusCode = 0x800D0000
	BadServerHalted                 StatusCode = 0x800E0000
	BadNothingToDo                  StatusCode = 0x800F0000
	BadTooManyOperations            StatusCode = 0x80100000
	BadCertificateInvalid           StatusCode = 0x80120000
	BadSecurityChecksFailed         StatusCode = 0x80130000
	BadCertificateTimeInvalid       StatusCode = 0x80140000
	BadCertificateHostNameInvalid   StatusCode = 0x80160000
	BadCertificateUseNotAllowed     StatusCode = 0x80180000
	BadCertificateUntrusted         StatusCode = 0x801A0000
	BadCertificateRevocationUnknown StatusCode = 0x801B0000
	BadCertificateRevoked           StatusCode = 0x801D0000
	BadSecureChannelIDInvalid       StatusCode = 0x80220000
	BadNonceInvalid                 StatusCode = 0x80240000
	BadSecurityModeRejected         StatusCode = 0x80540000
	BadSecurityPolicyRejected       StatusCode = 0x80550000
	BadTCPServerTooBusy             StatusCode = 0x807D0000
	BadTCPMessageTypeInvalid        StatusCode = 0x807E0000
	BadTCPSecureChannelUnknown      StatusCode = 0x807F0000
	BadTCPMessageTooLarge           StatusCode = 0x80800000
	BadTCPNotEnoughResources        StatusCode = 0x80810000
	BadTCPInternalError             StatusCode = 0x80820000
	BadTCPEndpointURLInvalid        StatusCode = 0x80830000
	BadRequestInterrupted           StatusCode = 0x80840000
	BadRequestTimeout               StatusCode = 0x80850000
	BadSecureChannelClosed          StatusCode = 0x80860000
	BadSecureChannelTokenUnknown    StatusCode = 0x80870000
	BadSequenceNumberInvalid        StatusCode = 0x80880000
	BadInvalidArgument              StatusCode = 0x80AB0000
	BadInvalidState                 StatusCode = 0x80AF0000
	BadRequestTooLarge              StatusCode = 0x80B80000
	BadResponseTooLarge             StatusCode = 0x80B90000
	BadProtocolVersionUnsupported   StatusCode = 0x80BE0000
	BadCertificateChainIncomplete   StatusCode = 0x810D0000
)

var statusCodeNames = map[StatusCode]string{
	Good:                            "Good",
	BadUnexpectedError:              "BadUnexpectedError",
	BadInternalError:                "BadInternalError",
	BadOutOfMemory:                  "BadOutOfMemory",
	BadResourceUnavailable:          "BadResourceUnavailable",
	BadCommunicationError:           "BadCommunicationError",
	BadEncodingError:                "BadEncodingError",
	BadDecodingError:                "BadDecodingError",
	BadEncodingLimitsExceeded:       "BadEncodingLimitsExceeded",
	BadUnknownResponse:              "BadUnknownResponse",
	BadTimeout:                      "BadTimeout",
	BadServiceUnsupported:           "BadServiceUnsupported",
	BadShutdown:                     "BadShutdown",
	BadServerNotConnected:           "BadServerNotConnected",
	BadServerHalted:                 "BadServerHalted",
	BadNothingToDo:                  "BadNothingToDo",
	BadTooManyOperations:            "BadTooManyOperations",
	BadCertificateInvalid:           "BadCertificateInvalid",
	BadSecurityChecksFailed:         "BadSecurityChecksFailed",
	BadCertificateTimeInvalid:       "BadCertificateTimeInvalid",
	BadCertificateHostNameInvalid:   "BadCertificateHostNameInvalid",
	BadCertificateUseNotAllowed:     "BadCertificateUseNotAllowed",
	BadCertificateUntrusted:         "BadCertificateUntrusted",
	BadCertificateRevocationUnknown: "BadCertificateRevocationUnknown",
	BadCertificateRevoked:           "BadCertificateRevoked",
	BadSecureChannelIDInvalid:       "BadSecureChannelIdInvalid",
	BadNonceInvalid:                 "BadNonceInvalid",
	BadSecurityModeRejected:         "BadSecurityModeRejected",
	BadSecurityPolicyRejected:       "BadSecurityPolicyRejected",
	BadTCPServerTooBusy:             "BadTcpServerTooBusy",
	BadTCPMessageTypeInvalid:        "BadTcpMessageTypeInvalid",
	BadTCPSecureChannelUnknown:      "BadTcpSecureChannelUnknown",
	BadTCPMessageTooLarge:           "BadTcpMessageTooLarge",
	BadTCPNotEnoughResources:        "BadTcpNotEnoughResources",
	BadTCPInternalError:             "BadTcpInternalError",
	BadTCPEndpointURLInvalid:        "BadTcpEndpointUrlInvalid",
	BadRequestInterrupted:           "BadRequestInterrupted",
	BadRequestTimeout:               "BadRequestTimeout",
	BadSecureChannelClosed:          "BadSecureChannelClosed",
	BadSecureChannelTokenUnknown:    "BadSecureChannelTokenUnknown",
	BadSequenceNumberInvalid:        "BadSequenceNumberInvalid",
	BadInvalidArgument:              "BadInvalidArgument",
	BadInvalidState:                 "BadInvalidState",
	BadRequestTooLarge:              "BadRequestTooLarge",
	BadResponseTooLarge:             "BadResponseTooLarge",
	BadProtocolVersionUnsupported:   "BadProtocolVersionUnsupported",
	BadCertificateChainIncomplete:   "BadCertificateChainIncomplete",
}

// Error implements the error interface.
func (c StatusCode) Error() string {
	if name, ok := statusCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(c))
}

// IsGood returns true if the StatusCode is good.
func (c StatusCode) IsGood() bool {
	return (uint32(c) & 0xC0000000) == 0
}

// IsBad returns true if the StatusCode is bad.
func (c StatusCode) IsBad() bool {
	return (uint32(c) & 0x80000000) != 0
}
