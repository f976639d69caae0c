// Package frames implements the strongly-typed AMQP 1.0 performatives and
// the outer frame envelope (size, DOFF, channel, payload) that carries
// them, per spec §4.2-4.3.
package frames

// Descriptor codes for every performative and composite type this library
// exchanges on the wire (AMQP 1.0 §1.6.4 / §2.7, §2.8, §3.4).
const (
	TypeCodeOpen        uint64 = 0x10
	TypeCodeBegin       uint64 = 0x11
	TypeCodeAttach      uint64 = 0x12
	TypeCodeFlow        uint64 = 0x13
	TypeCodeTransfer    uint64 = 0x14
	TypeCodeDisposition uint64 = 0x15
	TypeCodeDetach      uint64 = 0x16
	TypeCodeEnd         uint64 = 0x17
	TypeCodeClose       uint64 = 0x18

	TypeCodeError uint64 = 0x1d

	TypeCodeReceived uint64 = 0x23
	TypeCodeAccepted uint64 = 0x24
	TypeCodeRejected uint64 = 0x25
	TypeCodeReleased uint64 = 0x26
	TypeCodeModified uint64 = 0x27

	TypeCodeSource uint64 = 0x28
	TypeCodeTarget uint64 = 0x29

	TypeCodeSASLMechanisms uint64 = 0x40
	TypeCodeSASLInit       uint64 = 0x41
	TypeCodeSASLChallenge  uint64 = 0x42
	TypeCodeSASLResponse   uint64 = 0x43
	TypeCodeSASLOutcome    uint64 = 0x44

	TypeCodeMessageHeader              uint64 = 0x70
	TypeCodeDeliveryAnnotations        uint64 = 0x71
	TypeCodeMessageAnnotations         uint64 = 0x72
	TypeCodeMessageProperties          uint64 = 0x73
	TypeCodeApplicationProperties      uint64 = 0x74
	TypeCodeApplicationData            uint64 = 0x75
	TypeCodeAMQPSequence               uint64 = 0x76
	TypeCodeAMQPValue                  uint64 = 0x77
	TypeCodeFooter                     uint64 = 0x78
)
