package frames

import "github.com/Azure/go-amqp-transport/internal/encoding"

// SASLMechanisms announces the mechanisms the server supports (§5.3.2). The
// client only knows how to respond to ANONYMOUS and PLAIN (spec §1).
type SASLMechanisms struct {
	Mechanisms []encoding.Symbol
}

func (*SASLMechanisms) frameBody() {}

func (m *SASLMechanisms) fields() (uint64, []any) {
	return TypeCodeSASLMechanisms, []any{symbolsToList(m.Mechanisms)}
}

func (m *SASLMechanisms) fromFields(f []any) (*SASLMechanisms, error) {
	m.Mechanisms = listToSymbols(field(f, 0))
	return m, nil
}

// SASLInit selects a mechanism and carries its initial response (§5.3.3).
type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

func (*SASLInit) frameBody() {}

func (s *SASLInit) fields() (uint64, []any) {
	return TypeCodeSASLInit, []any{s.Mechanism, s.InitialResponse, nonEmptyString(s.Hostname)}
}

func (s *SASLInit) fromFields(f []any) (*SASLInit, error) {
	s.Mechanism, _ = field(f, 0).(encoding.Symbol)
	s.InitialResponse, _ = field(f, 1).([]byte)
	s.Hostname, _ = field(f, 2).(string)
	return s, nil
}

// SASLOutcome concludes the SASL negotiation with a result code (§5.3.6).
type SASLOutcome struct {
	Code           uint8
	AdditionalData []byte
}

func (*SASLOutcome) frameBody() {}

func (o *SASLOutcome) fields() (uint64, []any) {
	return TypeCodeSASLOutcome, []any{o.Code, o.AdditionalData}
}

func (o *SASLOutcome) fromFields(f []any) (*SASLOutcome, error) {
	o.Code = toUint8(field(f, 0))
	o.AdditionalData, _ = field(f, 1).([]byte)
	return o, nil
}

func toUint8(v any) uint8 {
	n, _ := v.(uint8)
	return n
}
